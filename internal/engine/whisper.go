package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Whisper defaults.
const (
	DefaultWhisperBinary = "whisper"
	DefaultWhisperModel  = "base"
)

// WhisperConfig configures the whisper CLI engine.
type WhisperConfig struct {
	Binary   string
	Model    string
	Language string
}

// Whisper runs the openai-whisper command line tool. It writes a .txt
// transcript next to the input, so the input should live in a job scope.
type Whisper struct {
	cfg           WhisperConfig
	logger        *slog.Logger
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewWhisper returns a Whisper engine.
func NewWhisper(cfg WhisperConfig, logger *slog.Logger) *Whisper {
	if cfg.Binary == "" {
		cfg.Binary = DefaultWhisperBinary
	}
	if cfg.Model == "" {
		cfg.Model = DefaultWhisperModel
	}
	return &Whisper{cfg: cfg, logger: logger.With("component", "whisper")}
}

// WithCommandRunner sets a custom command runner (for testing).
func (w *Whisper) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	w.commandRunner = runner
}

func (w *Whisper) Name() string { return "whisper:" + w.cfg.Model }

func (w *Whisper) buildArgs(source, outputDir string) []string {
	args := []string{
		source,
		"--model", w.cfg.Model,
		"--output_format", "txt",
		"--output_dir", outputDir,
		"--verbose", "False",
	}
	if w.cfg.Language != "" {
		args = append(args, "--language", w.cfg.Language)
	}
	return args
}

func (w *Whisper) run(ctx context.Context, name string, args ...string) error {
	if w.commandRunner != nil {
		return w.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(lastLines(string(output), 5)))
	}
	return nil
}

// Transcribe runs whisper and reads back the text transcript.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if audioPath == "" {
		return "", fmt.Errorf("whisper: source path required")
	}
	outputDir := filepath.Join(filepath.Dir(audioPath), "whisper-out")
	if err := os.MkdirAll(outputDir, 0o700); err != nil {
		return "", fmt.Errorf("whisper: ensure output dir: %w", err)
	}

	w.logger.Debug("running whisper", "path", audioPath, "model", w.cfg.Model)
	if err := w.run(ctx, w.cfg.Binary, w.buildArgs(audioPath, outputDir)...); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outputDir, base+".txt"))
	if err != nil {
		return "", fmt.Errorf("whisper: read transcript: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
