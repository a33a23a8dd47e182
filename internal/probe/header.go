package probe

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// wavDuration reads the RIFF fmt and data chunk headers.
func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	d := wav.NewDecoder(f)
	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("wav: %w", err)
	}
	if err := d.Err(); err != nil {
		return 0, fmt.Errorf("wav: %w", err)
	}
	bytesPerSec := int64(d.SampleRate) * int64(d.NumChans) * int64(d.BitDepth/8)
	if bytesPerSec <= 0 || d.PCMLen() <= 0 {
		return 0, errors.New("wav: incomplete header")
	}
	return float64(d.PCMLen()) / float64(bytesPerSec), nil
}

// flacDuration reads STREAMINFO only.
func flacDuration(path string) (float64, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return 0, fmt.Errorf("flac: %w", err)
	}
	defer func() { _ = stream.Close() }()

	info := stream.Info
	if info == nil || info.SampleRate == 0 || info.NSamples == 0 {
		return 0, errors.New("flac: stream info lacks sample count")
	}
	return float64(info.NSamples) / float64(info.SampleRate), nil
}
