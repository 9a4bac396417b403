package provider

import "context"

// ImageRequest describes a text-to-image generation call.
type ImageRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	N           int    `json:"n,omitempty"`
}

// ImageResult holds provider-hosted URLs for the generated images.
type ImageResult struct {
	URLs []string `json:"urls"`
}

// GenerateImage generates images from text. The call blocks until the
// provider returns; typical latency is a few seconds.
func (c *Client) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	if req.N <= 0 {
		req.N = 1
	}

	var resp struct {
		Data struct {
			ImageURLs []string `json:"image_urls"`
		} `json:"data"`
		BaseResp *baseResp `json:"base_resp"`
	}
	if err := c.request(ctx, "POST", "/v1/image_generation", req, &resp); err != nil {
		return nil, err
	}
	return &ImageResult{URLs: resp.Data.ImageURLs}, nil
}
