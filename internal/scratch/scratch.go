// Package scratch names and cleans up the per-job temporary files.
package scratch

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultStem = "source"
	defaultExt  = ".mp4"
	maxStemLen  = 80
)

// Pair is the source download and transcoded output of one job. Release
// must be called on every exit path.
type Pair struct {
	Dir   string
	Stem  string
	Input string

	mu     sync.Mutex
	output string
}

// Acquire ensures dir exists and names the input file after the sanitized
// basename of sourceURL plus a millisecond timestamp.
func Acquire(dir, sourceURL string, now time.Time) (*Pair, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	stem, ext := baseName(sourceURL)
	return &Pair{
		Dir:   dir,
		Stem:  stem,
		Input: filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, now.UnixMilli(), ext)),
	}, nil
}

// OutputPath names the transcoded file <stem>-mobile-<ts>.mp4 and registers
// it for release.
func (p *Pair) OutputPath(now time.Time) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = filepath.Join(p.Dir, fmt.Sprintf("%s-mobile-%d.mp4", p.Stem, now.UnixMilli()))
	return p.output
}

// Release removes both files. Missing files are not an error.
func (p *Pair) Release() error {
	p.mu.Lock()
	files := []string{p.Input, p.output}
	p.mu.Unlock()

	var firstErr error
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// baseName extracts a filesystem-safe stem and extension from a URL path.
func baseName(sourceURL string) (string, string) {
	p := sourceURL
	if u, err := url.Parse(sourceURL); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		base = ""
	}

	ext := strings.ToLower(path.Ext(base))
	stem := Sanitize(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		stem = defaultStem
	}
	if ext == "" || Sanitize(ext) != ext {
		ext = defaultExt
	}
	return stem, ext
}

// Sanitize keeps ASCII letters, digits, '.', '-' and '_', replacing anything
// else with '_'.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxStemLen {
			break
		}
	}
	return strings.Trim(b.String(), ".")
}
