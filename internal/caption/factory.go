package caption

import (
	"fmt"

	"ftrack/internal/config"
	"ftrack/internal/ft"
)

// NewCaptionerFromConfig returns the captioner named by cfg.Type, or nil
// when captioning is disabled. getenv resolves the API key variable.
func NewCaptionerFromConfig(cfg config.CaptioningConfig, getenv func(string) string) (ft.Captioner, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "static":
		return NewStaticCaptioner(""), nil
	case "anthropic":
		key := getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("captioning: %s is not set", cfg.APIKeyEnv)
		}
		return NewAnthropicCaptioner(key, cfg.Model, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown captioning type: %q", cfg.Type)
	}
}
