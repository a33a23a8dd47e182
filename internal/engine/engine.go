// Package engine adapts speech-to-text backends behind one interface and
// bounds how many transcriptions run at once.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/config"
)

// Engine turns a local audio file into text.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Name() string
}

// New builds the engine selected by cfg.Backend.
func New(cfg config.EngineConfig, logger *slog.Logger) (Engine, error) {
	switch cfg.Backend {
	case "whisper", "":
		return NewWhisper(WhisperConfig{
			Binary:   cfg.WhisperBinary,
			Model:    cfg.Model,
			Language: cfg.Language,
		}, logger), nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			URL:      cfg.OpenAIURL,
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.Model,
			Language: cfg.Language,
		}, nil), nil
	default:
		return nil, fmt.Errorf("unsupported engine backend: %q", cfg.Backend)
	}
}
