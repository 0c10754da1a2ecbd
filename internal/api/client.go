// Package api uploads finished recordings to the trailer viewer frontend.
package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trailerlab/trailerd/pkg/core"
)

const uploadPath = "/v1/recordings/add"

// Client talks to the recording web frontend.
type Client struct {
	server string
	secret string
	http   *http.Client
}

// New creates a client for the frontend at baseURL. The secret authenticates
// uploads.
func New(baseURL, secret string) *Client {
	return &Client{
		server: strings.TrimRight(baseURL, "/"),
		secret: secret,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck reports whether the frontend is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.http.Get(c.server + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Upload streams an exported recording to the frontend as a multipart form.
// The file is piped rather than buffered; long runs produce archives too
// large to hold in memory twice.
func (c *Client) Upload(filePath string, meta core.UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	body, contentType, errCh := c.recordingForm(file, filepath.Base(filePath), meta)

	req, err := http.NewRequest(http.MethodPost, c.server+uploadPath, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	return nil
}

// recordingForm assembles the upload form on a pipe. The returned channel
// yields the writer goroutine's error once the form is fully written.
func (c *Client) recordingForm(file io.Reader, filename string, meta core.UploadMetadata) (io.Reader, string, <-chan error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	errCh := make(chan error, 1)

	go func() {
		defer pw.Close()
		defer form.Close()

		fields := [][2]string{
			{"secret", c.secret},
			{"filename", filename},
			{"courseName", meta.CourseName},
			{"runName", meta.RunName},
			{"runDuration", fmt.Sprintf("%f", meta.RunDuration)},
			{"tag", meta.Tag},
		}
		for _, f := range fields {
			if err := form.WriteField(f[0], f[1]); err != nil {
				errCh <- fmt.Errorf("failed to write field %s: %w", f[0], err)
				return
			}
		}

		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			errCh <- fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			errCh <- fmt.Errorf("failed to copy file: %w", err)
			return
		}
		errCh <- nil
	}()

	return pr, form.FormDataContentType(), errCh
}
