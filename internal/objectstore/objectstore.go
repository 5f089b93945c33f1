// Package objectstore parses storage URLs and uploads transcoded renditions.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	ContentTypeMP4 = "video/mp4"
	mobilePrefix   = "mobile/"
)

// ErrUnrecognizedURL means the source URL is not a public storage object URL,
// so there is no bucket to upload the rendition into.
var ErrUnrecognizedURL = errors.New("url does not match /object/public/<bucket>/<path>")

var publicObjectPattern = regexp.MustCompile(`/object/public/([^/]+)/(.+)$`)

// Location is a bucket and object path inside it.
type Location struct {
	Bucket string
	Path   string
}

func (l Location) String() string {
	return l.Bucket + "/" + l.Path
}

// Uploader stores a local file as an object and returns its public URL.
// Uploads overwrite any existing object at the same path.
type Uploader interface {
	Upload(ctx context.Context, loc Location, filePath, contentType string) (string, error)
}

// ParsePublicURL extracts bucket and object path from
// https://<host>/.../object/public/<bucket>/<objectPath>.
func ParsePublicURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Location{}, fmt.Errorf("%w: %q", ErrUnrecognizedURL, raw)
	}

	m := publicObjectPattern.FindStringSubmatch(u.Path)
	if m == nil || strings.Trim(m[2], "/") == "" {
		return Location{}, fmt.Errorf("%w: %q", ErrUnrecognizedURL, raw)
	}
	return Location{Bucket: m[1], Path: m[2]}, nil
}

// MobileLocation is where the rendition named name is stored for a source
// object in src's bucket.
func MobileLocation(src Location, name string) Location {
	return Location{Bucket: src.Bucket, Path: mobilePrefix + name}
}

// escapePath escapes each segment of an object path for use in a URL.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
