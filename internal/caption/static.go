package caption

import (
	"context"
	"fmt"

	"ftrack/internal/ft"
)

// StaticCaptioner returns a fixed caption. Used offline and in tests.
type StaticCaptioner struct {
	Text string
}

var _ ft.Captioner = (*StaticCaptioner)(nil)

func NewStaticCaptioner(text string) *StaticCaptioner {
	return &StaticCaptioner{Text: text}
}

func (c *StaticCaptioner) Caption(ctx context.Context, mediaType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Text != "" {
		return c.Text, nil
	}
	return fmt.Sprintf("%s image, %d bytes", mediaType, len(data)), nil
}
