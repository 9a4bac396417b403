package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"muse/internal/logging"
	"muse/internal/provider"
)

// imageAPI is the slice of the provider client the image adapter needs.
type imageAPI interface {
	GenerateImage(ctx context.Context, req *provider.ImageRequest) (*provider.ImageResult, error)
}

// ImageGenerator is the synchronous text-to-image adapter.
type ImageGenerator struct {
	api    imageAPI
	model  string
	logger logging.Logger
}

// NewImageGenerator creates an image adapter bound to a provider model.
func NewImageGenerator(api imageAPI, model string, logger logging.Logger) *ImageGenerator {
	return &ImageGenerator{api: api, model: model, logger: logging.OrNop(logger)}
}

// Generate produces an image for the prompt, blocking until the provider
// returns.
func (g *ImageGenerator) Generate(ctx context.Context, prompt string) (*Envelope, error) {
	start := time.Now()
	res, err := g.api.GenerateImage(ctx, &provider.ImageRequest{
		Model:  g.model,
		Prompt: prompt,
		N:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	if len(res.URLs) == 0 {
		return nil, fmt.Errorf("image generation: provider returned no images")
	}

	url := res.URLs[0]
	g.logger.Debug("Image generated in %s: %s", time.Since(start), url)
	return &Envelope{
		MediaType: MediaImage,
		URL:       url,
		MimeType:  imageMimeFromURL(url),
		Metadata: Metadata{
			Model:            g.model,
			Format:           strings.TrimPrefix(imageMimeFromURL(url), "image/"),
			GenerationTimeMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

func imageMimeFromURL(url string) string {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch {
	case strings.HasSuffix(trimmed, ".jpg"), strings.HasSuffix(trimmed, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(trimmed, ".webp"):
		return "image/webp"
	case strings.HasSuffix(trimmed, ".gif"):
		return "image/gif"
	default:
		return "image/png"
	}
}
