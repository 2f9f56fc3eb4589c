// Package api uploads exported files to a remote archive.
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/h2non/filetype"
)

// UploadMetadata describes an exported file.
type UploadMetadata struct {
	// Kind is what was exported: scene, image, video or sequence.
	Kind string
	// Nodes is the scene size at export time.
	Nodes int
	// Duration of the animation, in seconds, for recordings.
	Duration float64
}

// Client handles communication with the export archive.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusError reports an unexpected HTTP status from the archive.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Op, e.Code)
}

// Healthcheck checks if the archive is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "healthcheck", Code: resp.StatusCode}
	}
	return nil
}

// contentType sniffs the file header. Unknown content is sent as an
// octet stream.
func contentType(file *os.File) (string, error) {
	head := make([]byte, 261)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream", nil
	}
	return kind.MIME.Value, nil
}

// Upload streams an exported file to the archive as a multipart form.
func (c *Client) Upload(ctx context.Context, filePath string, meta UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	mime, err := contentType(file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	name := filepath.Base(filePath)

	errCh := make(chan error, 1)
	go func() {
		err := writeForm(writer, file, name, mime, c.apiKey, meta)
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/exports/add", pr)
	if err != nil {
		pr.Close()
		<-errCh
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// unblocks the form writer if the body was never consumed
		pr.CloseWithError(err)
		<-errCh
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "upload", Code: resp.StatusCode}
	}
	return nil
}

func writeForm(w *multipart.Writer, file io.Reader, name, mime, secret string, meta UploadMetadata) error {
	fields := [][2]string{
		{"secret", secret},
		{"filename", name},
		{"kind", meta.Kind},
		{"contentType", mime},
		{"nodes", strconv.Itoa(meta.Nodes)},
		{"duration", strconv.FormatFloat(meta.Duration, 'f', -1, 64)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}
