package generator

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"muse/internal/logging"
	"muse/internal/provider"
)

// audioAPI is the slice of the provider client the audio adapter needs.
type audioAPI interface {
	Synthesize(ctx context.Context, req *provider.SpeechRequest) (*provider.SpeechResult, error)
}

// AudioGenerator is the synchronous text-to-speech adapter.
type AudioGenerator struct {
	api    audioAPI
	model  string
	logger logging.Logger
}

// NewAudioGenerator creates an audio adapter bound to a provider model.
func NewAudioGenerator(api audioAPI, model string, logger logging.Logger) *AudioGenerator {
	return &AudioGenerator{api: api, model: model, logger: logging.OrNop(logger)}
}

// Generate synthesizes speech for the prompt, blocking until the provider
// returns. The audio payload is carried inline, base64-encoded.
func (g *AudioGenerator) Generate(ctx context.Context, prompt string) (*Envelope, error) {
	start := time.Now()
	res, err := g.api.Synthesize(ctx, &provider.SpeechRequest{
		Model: g.model,
		Text:  prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}

	g.logger.Debug("Speech synthesized in %s: %d bytes (%s)", time.Since(start), len(res.Audio), res.Format)
	return &Envelope{
		MediaType: MediaAudio,
		Data:      base64.StdEncoding.EncodeToString(res.Audio),
		MimeType:  audioMime(res.Format),
		Metadata: Metadata{
			Model:            g.model,
			Format:           res.Format,
			GenerationTimeMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

func audioMime(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}
