package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/kotoba-labs/kaiwa/internal/reliability"
)

const (
	elevenLabsModel      = "eleven_flash_v2_5"
	elevenLabsSampleRate = 16000
	ttsChunkBytes        = 8192
)

type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	BaseURL string
}

// ElevenLabsTTS streams synthesized speech over the ElevenLabs HTTP API.
// The stream endpoint returns raw PCM16LE at the requested sample rate,
// which is chunked onto the channel as it arrives.
type ElevenLabsTTS struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsTTS(cfg ElevenLabsConfig) *ElevenLabsTTS {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	return &ElevenLabsTTS{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string) (<-chan TTSChunk, error) {
	body, err := sonic.Marshal(elevenLabsRequest{Text: text, ModelID: elevenLabsModel})
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=pcm_%d",
		strings.TrimRight(e.cfg.BaseURL, "/"), e.cfg.VoiceID, elevenLabsSampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, reliability.ServiceError("elevenlabs", "request", 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, reliability.ServiceError("elevenlabs", "synthesize", resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, detail))
	}

	out := make(chan TTSChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		buf := make([]byte, ttsChunkBytes)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				pcm := make([]byte, n)
				copy(pcm, buf[:n])
				select {
				case out <- TTSChunk{PCM: pcm, SampleRate: elevenLabsSampleRate}:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				// The stream ended where the server meant it to end. Only
				// now may the utterance be marked complete.
				select {
				case out <- TTSChunk{SampleRate: elevenLabsSampleRate, Final: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("voice: elevenlabs stream broke mid-utterance: %v", err)
				}
				// No final marker: the consumer sees a truncated stream,
				// not a complete one.
				return
			}
		}
	}()
	return out, nil
}
