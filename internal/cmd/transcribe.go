package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/config"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/pipeline"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/server"
)

func newTranscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Transcribe a local audio file without starting the server",
		Long: "Runs one file through the same validation, tier admission, transcription and document " +
			"steps as the HTTP service and writes the transcript into the output directory.\n\n" +
			"With --tier the given tier is used directly; otherwise the tier stored for --account applies, " +
			"and an unknown or missing account gets the free tier.",
		Example: "  autoecho transcribe --tier premium --input meeting.mp3\n" +
			"  autoecho transcribe --account alice@example.com --input call.wav --output transcripts/",
		Args: cobra.NoArgs,
		RunE: runTranscribe,
	}
	cmd.Flags().String("tier", "", "tier to transcribe under (free, basic, standard, premium, enterprise)")
	cmd.Flags().String("account", "", "account whose stored tier applies when --tier is not set")
	cmd.Flags().StringP("input", "i", "", "path to the audio file")
	cmd.Flags().StringP("output", "o", "output", "directory for the transcript")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	tierName, _ := cmd.Flags().GetString("tier")
	account, _ := cmd.Flags().GetString("account")
	input, _ := cmd.Flags().GetString("input")
	outDir, _ := cmd.Flags().GetString("output")

	cfg, err := loadOptionalConfig(cmd, args)
	if err != nil {
		return err
	}
	logger := newLogger(config.LoggingConfig{Level: cfg.Logging.Level, Format: "text"}, cmd.ErrOrStderr())

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}

	c, err := server.Build(cmd.Context(), cfg, logger, buildOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = c.Store.Close() }()

	res, err := c.Pipeline.Run(cmd.Context(), pipeline.Request{
		Account:      account,
		Tier:         tierName,
		Filename:     filepath.Base(input),
		DeclaredSize: info.Size(),
		Body:         f,
	})
	out := cmd.OutOrStdout()
	if err != nil {
		if ae, ok := apperror.As(err); ok {
			_, _ = fmt.Fprintf(out, "[!] %s (%s)\n", ae.Message, ae.Code)
			for k, v := range ae.Details {
				_, _ = fmt.Fprintf(out, "    %s: %v\n", k, v)
			}
		}
		return fmt.Errorf("transcription %s: %w", res.Job.State, err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	dest := filepath.Join(outDir, res.Artifact.Filename)
	if err := os.WriteFile(dest, res.Artifact.Content, 0644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	_, _ = fmt.Fprintf(out, "[ok] %s tier, %.1fs of audio\n", res.Job.Tier, res.Job.Duration)
	_, _ = fmt.Fprintf(out, "[ok] Transcript saved to %s\n", dest)
	return nil
}

// loadOptionalConfig loads the config named on the command line, or the
// default file when it exists. Without either, built-in defaults apply.
func loadOptionalConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path := resolveConfigPath(cmd, args, "")
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error: %w", err)
	}
	return cfg, nil
}
