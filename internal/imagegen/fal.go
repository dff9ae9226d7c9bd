package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/kotoba-labs/kaiwa/internal/reliability"
)

const (
	maxImageBytes   = 8 << 20
	falImageTimeout = 45 * time.Second
)

// FalGenerator renders vocabulary illustrations through the fal.ai
// synchronous inference API and downloads the resulting image bytes.
type FalConfig struct {
	APIKey   string
	Endpoint string
}

type FalGenerator struct {
	cfg    FalConfig
	client *http.Client
}

func NewFalGenerator(cfg FalConfig) *FalGenerator {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "https://fal.run/fal-ai/flux/schnell"
	}
	return &FalGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: falImageTimeout},
	}
}

type falRequest struct {
	Prompt    string `json:"prompt"`
	ImageSize string `json:"image_size"`
	NumImages int    `json:"num_images"`
}

type falResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

func (g *FalGenerator) Generate(ctx context.Context, prompt string) (Image, error) {
	body, err := sonic.Marshal(falRequest{Prompt: prompt, ImageSize: "square_hd", NumImages: 1})
	if err != nil {
		return Image{}, fmt.Errorf("encode image request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Image{}, err
	}
	req.Header.Set("Authorization", "Key "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Image{}, reliability.ServiceError("fal", "request", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Image{}, reliability.ServiceError("fal", "generate", resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, detail))
	}

	var out falResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Image{}, fmt.Errorf("decode image response: %w", err)
	}
	if len(out.Images) == 0 {
		return Image{}, fmt.Errorf("image response contained no images")
	}
	return g.fetch(ctx, out.Images[0].URL, out.Images[0].ContentType)
}

func (g *FalGenerator) fetch(ctx context.Context, url, mime string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Image{}, reliability.ServiceError("fal", "download", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Image{}, reliability.ServiceError("fal", "download", resp.StatusCode,
			fmt.Errorf("image download status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Image{}, fmt.Errorf("read image body: %w", err)
	}
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	if mime == "" {
		mime = "image/png"
	}
	return Image{Bytes: data, MIME: mime}, nil
}
