package imagegen

import "context"

// Image is one generated picture.
type Image struct {
	Bytes []byte
	MIME  string
}

// Generator produces an illustration for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Image, error)
}
