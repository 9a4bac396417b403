package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// SpeechRequest describes a text-to-speech synthesis call.
type SpeechRequest struct {
	Model   string `json:"model"`
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
	Format  string `json:"format,omitempty"`
}

// SpeechResult holds the synthesized audio bytes.
type SpeechResult struct {
	Audio  []byte
	Format string
}

type speechRequestBody struct {
	Model        string `json:"model"`
	Text         string `json:"text"`
	VoiceSetting struct {
		VoiceID string `json:"voice_id,omitempty"`
	} `json:"voice_setting"`
	AudioSetting struct {
		Format string `json:"format,omitempty"`
	} `json:"audio_setting"`
}

// Synthesize converts text to speech. The call blocks until the provider
// returns the full audio payload; the provider encodes it as hex.
func (c *Client) Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	format := req.Format
	if format == "" {
		format = "mp3"
	}

	var body speechRequestBody
	body.Model = req.Model
	body.Text = req.Text
	body.VoiceSetting.VoiceID = req.VoiceID
	body.AudioSetting.Format = format

	var resp struct {
		Data struct {
			Audio string `json:"audio"`
		} `json:"data"`
		BaseResp *baseResp `json:"base_resp"`
	}
	if err := c.request(ctx, "POST", "/v1/t2a_v2", &body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Audio == "" {
		return nil, fmt.Errorf("provider returned empty audio payload")
	}

	audio, err := decodeHexAudio(resp.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return &SpeechResult{Audio: audio, Format: format}, nil
}

// decodeHexAudio decodes the provider's hex-encoded audio payload.
func decodeHexAudio(hexData string) ([]byte, error) {
	hexData = strings.ReplaceAll(hexData, " ", "")
	hexData = strings.ReplaceAll(hexData, "\n", "")
	return hex.DecodeString(hexData)
}
