// Package probe measures audio duration without decoding the whole file.
// WAV and FLAC durations come from their headers; everything else, and any
// header that fails to parse, goes through ffprobe.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
)

// Runner executes an external command and returns its standard output.
// Standard error belongs in the returned error, never in the output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Probe measures audio duration in seconds.
type Probe struct {
	ffprobe string
	run     Runner
	logger  *slog.Logger
}

// Option configures a Probe.
type Option func(*Probe)

// WithRunner replaces the process runner used for ffprobe.
func WithRunner(r Runner) Option {
	return func(p *Probe) { p.run = r }
}

// New returns a Probe that shells out to the given ffprobe binary.
func New(ffprobeBinary string, logger *slog.Logger, opts ...Option) *Probe {
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	p := &Probe{
		ffprobe: ffprobeBinary,
		run:     execRunner,
		logger:  logger.With("component", "probe"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Measure returns the duration of the audio at path. Every failure is a
// DurationUnavailable error.
func (p *Probe) Measure(ctx context.Context, path string) (float64, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	var (
		seconds float64
		err     error
	)
	switch ext {
	case "wav":
		seconds, err = wavDuration(path)
	case "flac":
		seconds, err = flacDuration(path)
	default:
		err = errNoHeaderParser
	}
	if err != nil {
		if !errors.Is(err, errNoHeaderParser) {
			p.logger.Debug("header parse failed, using ffprobe", "path", path, "error", err)
		}
		seconds, err = p.ffprobeDuration(ctx, path)
	}
	if err != nil {
		return 0, apperror.Wrap(apperror.DurationUnavailable, err, "could not determine audio duration")
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, apperror.New(apperror.DurationUnavailable, "could not determine audio duration")
	}
	return seconds, nil
}

var errNoHeaderParser = errors.New("no header parser")
