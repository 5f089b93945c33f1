package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	storagego "github.com/supabase-community/storage-go"
)

// SupabaseStorage uploads through the Supabase Storage API.
type SupabaseStorage struct {
	baseURL string
	client  *storagego.Client
}

// NewSupabaseStorage targets the project at baseURL, authenticating with key
// (the service role key when available).
func NewSupabaseStorage(baseURL, key string) *SupabaseStorage {
	baseURL = strings.TrimRight(baseURL, "/")
	return &SupabaseStorage{
		baseURL: baseURL,
		client:  storagego.NewClient(baseURL+"/storage/v1", key, map[string]string{"apikey": key}),
	}
}

// PublicURL returns the public object URL for loc
func (s *SupabaseStorage) PublicURL(loc Location) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, escapePath(loc.Bucket), escapePath(loc.Path))
}

// Upload overwrites any object already at loc. The storage client takes no
// context, so ctx is enforced by aborting the body stream and by not
// waiting past ctx for the response.
func (s *SupabaseStorage) Upload(ctx context.Context, loc Location, filePath, contentType string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open upload file: %w", err)
	}

	upsert := true
	opts := storagego.FileOptions{ContentType: &contentType, Upsert: &upsert}

	done := make(chan error, 1)
	go func() {
		defer f.Close()
		resp, err := s.client.UploadFile(loc.Bucket, loc.Path, &contextReader{ctx: ctx, r: f}, opts)
		if err == nil && resp.Key == "" {
			err = errors.New("no object key returned")
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", loc, err)
		}
	case <-ctx.Done():
		return "", fmt.Errorf("upload %s: %w", loc, ctx.Err())
	}

	return s.PublicURL(loc), nil
}

// contextReader fails reads once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Uploader = (*SupabaseStorage)(nil)
