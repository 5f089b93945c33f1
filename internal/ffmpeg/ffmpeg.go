// Package ffmpeg runs the encoder with the fixed mobile delivery profile.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Mobile profile. Width is fixed; -2 keeps the height proportional and even
// for yuv420p chroma subsampling.
const (
	ScaleFilter  = "scale=540:-2"
	VideoCodec   = "libx264"
	VideoProfile = "main"
	Preset       = "veryfast"
	CRF          = "28"
	PixelFormat  = "yuv420p"
	AudioCodec   = "aac"
	AudioChannel = "2"
	AudioBitrate = "96k"

	stderrTail = 2048
)

// waitDelay bounds how long Transcode waits for stderr to drain after the
// encoder is killed.
const waitDelay = 10 * time.Second

// ExitError reports a non-zero encoder exit.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("encoder exited with code %d: %s", e.Code, e.Stderr)
}

// Invoker runs the encoder located at Path.
type Invoker struct {
	Path   string
	logger *slog.Logger
}

func NewInvoker(path string, logger *slog.Logger) *Invoker {
	return &Invoker{Path: path, logger: logger}
}

// Args returns the argument list for transcoding input into output.
func Args(input, output string) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-y",
		"-i", input,
		"-vf", ScaleFilter,
		"-c:v", VideoCodec,
		"-profile:v", VideoProfile,
		"-preset", Preset,
		"-crf", CRF,
		"-pix_fmt", PixelFormat,
		"-c:a", AudioCodec,
		"-ac", AudioChannel,
		"-b:a", AudioBitrate,
		"-movflags", "+faststart",
		output,
	}
}

// Transcode blocks until the encoder exits. The context bounds the run; the
// process is killed when it is done.
func (i *Invoker) Transcode(ctx context.Context, input, output string) error {
	args := Args(input, output)
	i.logger.Info("running encoder", "cmd", i.Path+" "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, i.Path, args...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("encoder interrupted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Stderr: tail(stderr.String())}
	}
	return fmt.Errorf("start encoder %s: %w", i.Path, err)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}
