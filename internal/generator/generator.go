package generator

import "context"

// MediaType identifies the modality a generator produces.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// Metadata describes how a result was produced.
type Metadata struct {
	Model            string `json:"model"`
	Format           string `json:"format,omitempty"`
	GenerationTimeMs int64  `json:"generation_time_ms"`
}

// Envelope is the payload a generator hands back. Data carries the encoded
// payload for synchronous results; URL points at provider-hosted output when
// the provider does not return bytes inline. At least one of the two is set.
type Envelope struct {
	MediaType MediaType `json:"type"`
	Data      string    `json:"data,omitempty"`
	URL       string    `json:"url,omitempty"`
	MimeType  string    `json:"mime_type"`
	Metadata  Metadata  `json:"metadata"`
}

// SyncGenerator produces a result within a single blocking call. Image and
// audio backends implement this: upstream latency is seconds, so holding the
// request open is acceptable.
type SyncGenerator interface {
	Generate(ctx context.Context, prompt string) (*Envelope, error)
}

// AsyncGenerator only hands back the provider's own task handle; the caller
// polls the handle out-of-band until the provider reports a terminal state.
// Video backends implement this: generation takes minutes, which is
// incompatible with a single open request.
type AsyncGenerator interface {
	Submit(ctx context.Context, prompt string) (handle string, err error)
	Poll(ctx context.Context, handle string) (*PollStatus, error)
}

// PollStatus is one observation of an async handle's state.
type PollStatus struct {
	Done     bool
	Failed   bool
	Progress int
	Message  string
	Result   *Envelope
	Err      string
}

// Terminal reports whether the provider has finished with the handle.
func (s *PollStatus) Terminal() bool {
	return s.Done || s.Failed
}
