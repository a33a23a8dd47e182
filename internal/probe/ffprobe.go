package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *Probe) ffprobeDuration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx, p.ffprobe, "-v", "error", "-hide_banner", "-show_format", "-of", "json", "--", path)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	return parseDuration(parsed.Format.Duration)
}

func parseDuration(value string) (float64, error) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "N/A" {
		return 0, errors.New("ffprobe: no duration")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return math.NaN(), fmt.Errorf("ffprobe: bad duration %q", cleaned)
	}
	return v, nil
}
