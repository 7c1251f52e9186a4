package ft

import "context"

// Captioner turns image bytes into a free-text description.
type Captioner interface {
	Caption(ctx context.Context, mediaType string, data []byte) (string, error)
}
