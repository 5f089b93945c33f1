// Package encoder resolves and verifies the ffmpeg executable used for
// transcoding.
package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrEncoderNotFound is returned when no resolution step yields a binary.
var ErrEncoderNotFound = errors.New("ffmpeg encoder not found")

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec, attaching stderr to any *exec.ExitError.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Locator resolves the encoder path. Resolution order, first match wins:
// Override, then each of BundleDirs, then a PATH lookup through `which`
// (`where` on Windows).
type Locator struct {
	Override   string
	BundleDirs []string
	GOOS       string
	Run        Runner
}

// NewLocator builds a Locator for the current host. bundleDir may be empty;
// the directories ffmpeg/ and bin/ next to the running executable are
// always considered.
func NewLocator(override, bundleDir string) *Locator {
	var dirs []string
	if bundleDir != "" {
		dirs = append(dirs, bundleDir)
	}
	if exe, err := os.Executable(); err == nil {
		base := filepath.Dir(exe)
		dirs = append(dirs, filepath.Join(base, "ffmpeg"), filepath.Join(base, "bin"))
	}

	return &Locator{
		Override:   override,
		BundleDirs: dirs,
		GOOS:       runtime.GOOS,
		Run:        ExecRunner,
	}
}

func (l *Locator) binaryName() string {
	if l.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// Locate returns the encoder path or an error wrapping ErrEncoderNotFound
// that tells the operator how to fix it.
func (l *Locator) Locate(ctx context.Context) (string, error) {
	if p := strings.TrimSpace(l.Override); p != "" {
		return p, nil
	}

	if p := l.bundled(); p != "" {
		return p, nil
	}

	if p := l.lookPath(ctx); p != "" {
		return p, nil
	}

	return "", fmt.Errorf("%w; fix one of:\n"+
		"  1. set FFMPEG_BIN to the full path of an ffmpeg executable\n"+
		"  2. place %s in FFMPEG_BUNDLE_DIR or in ffmpeg/ or bin/ next to this binary\n"+
		"  3. install ffmpeg so that `%s ffmpeg` finds it on PATH",
		ErrEncoderNotFound, l.binaryName(), l.lookupCommand())
}

func (l *Locator) bundled() string {
	name := l.binaryName()
	for _, dir := range l.BundleDirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

func (l *Locator) lookupCommand() string {
	if l.GOOS == "windows" {
		return "where"
	}
	return "which"
}

func (l *Locator) lookPath(ctx context.Context) string {
	if l.Run == nil {
		return ""
	}
	out, err := l.Run(ctx, l.lookupCommand(), "ffmpeg")
	if err != nil {
		return ""
	}
	return firstLine(out)
}

// Verify runs `<path> -version`. A non-zero exit is a hard failure.
func (l *Locator) Verify(ctx context.Context, path string) (string, error) {
	out, err := l.Run(ctx, path, "-version")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("encoder %s -version exited with code %d: %s",
				path, exitErr.ExitCode(), firstLine(exitErr.Stderr))
		}
		return "", fmt.Errorf("encoder %s -version: %w", path, err)
	}
	return firstLine(out), nil
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
