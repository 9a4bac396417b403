package generator

import (
	"context"
	"fmt"

	"muse/internal/logging"
	"muse/internal/provider"
)

// videoAPI is the slice of the provider client the video adapter needs.
type videoAPI interface {
	SubmitVideo(ctx context.Context, req *provider.VideoRequest) (string, error)
	QueryVideo(ctx context.Context, taskID string) (*provider.VideoStatus, error)
}

// VideoGenerator is the asynchronous text-to-video adapter. Submit returns
// the provider's task handle; the caller polls it until a terminal state.
type VideoGenerator struct {
	api    videoAPI
	model  string
	logger logging.Logger
}

// NewVideoGenerator creates a video adapter bound to a provider model.
func NewVideoGenerator(api videoAPI, model string, logger logging.Logger) *VideoGenerator {
	return &VideoGenerator{api: api, model: model, logger: logging.OrNop(logger)}
}

// Submit submits a video generation task and returns the provider handle.
func (g *VideoGenerator) Submit(ctx context.Context, prompt string) (string, error) {
	handle, err := g.api.SubmitVideo(ctx, &provider.VideoRequest{
		Model:  g.model,
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("video submission: %w", err)
	}
	g.logger.Info("Video task submitted: handle=%s", handle)
	return handle, nil
}

// Poll observes the provider task once and maps its state onto a progress
// estimate. The provider does not report percentages, so the mapping is a
// fixed ladder per stage; the registry keeps observed progress monotone.
func (g *VideoGenerator) Poll(ctx context.Context, handle string) (*PollStatus, error) {
	status, err := g.api.QueryVideo(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("video poll: %w", err)
	}

	switch status.Status {
	case provider.TaskStatusQueueing:
		return &PollStatus{Progress: 10, Message: "queued"}, nil
	case provider.TaskStatusPreparing:
		return &PollStatus{Progress: 25, Message: "preparing"}, nil
	case provider.TaskStatusProcessing:
		return &PollStatus{Progress: 60, Message: "rendering"}, nil
	case provider.TaskStatusSuccess:
		if status.DownloadURL == "" {
			return &PollStatus{
				Failed: true,
				Err:    "provider reported success without a downloadable result",
			}, nil
		}
		return &PollStatus{
			Done:     true,
			Progress: 100,
			Result: &Envelope{
				MediaType: MediaVideo,
				URL:       status.DownloadURL,
				MimeType:  "video/mp4",
				Metadata:  Metadata{Model: g.model, Format: "mp4"},
			},
		}, nil
	case provider.TaskStatusFailed:
		return &PollStatus{Failed: true, Err: "provider reported generation failure"}, nil
	default:
		g.logger.Warn("Unknown provider status %q for handle %s", status.Status, handle)
		return &PollStatus{Progress: 0, Message: string(status.Status)}, nil
	}
}
