package gemini

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type pollInterval = time.Duration

const defaultPollInterval pollInterval = 500 * time.Millisecond

// FileRef identifies a file uploaded to the backend.
type FileRef struct {
	Name     string
	URI      string
	MIMEType string
}

// FileManager owns the uploaded-file lifecycle. Satisfied by Client; faked
// in tests.
type FileManager interface {
	Upload(ctx context.Context, path string) (FileRef, error)
	Delete(ctx context.Context, ref FileRef) error
}

var _ FileManager = (*Client)(nil)

// SetPollInterval overrides the file-state poll delay.
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// Upload sends a local file to the backend and blocks until the remote
// processing state becomes active, so the file is usable as a prompt part.
func (c *Client) Upload(ctx context.Context, path string) (FileRef, error) {
	file, err := c.genai.Files.UploadFromPath(ctx, path, nil)
	if err != nil {
		return FileRef{}, fmt.Errorf("upload %s: %w", path, mapAPIError(err))
	}

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return FileRef{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		file, err = c.genai.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return FileRef{}, fmt.Errorf("poll %s: %w", path, mapAPIError(err))
		}
	}

	if file.State != genai.FileStateActive {
		return FileRef{}, fmt.Errorf("file %s ended in state %v", path, file.State)
	}

	c.logger.Debug("gemini file active", zap.String("name", file.Name), zap.String("uri", file.URI))

	return FileRef{Name: file.Name, URI: file.URI, MIMEType: file.MIMEType}, nil
}

// Delete removes an uploaded file from the backend.
func (c *Client) Delete(ctx context.Context, ref FileRef) error {
	if ref.Name == "" {
		return nil
	}
	if _, err := c.genai.Files.Delete(ctx, ref.Name, nil); err != nil {
		return fmt.Errorf("delete %s: %w", ref.Name, mapAPIError(err))
	}
	return nil
}
