package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// TransferError describes a failed bulk transfer against a signed URL. An
// expired or mis-scoped signature surfaces here as the object store's 403.
type TransferError struct {
	Op         string // "download" or "upload"
	StatusCode int    // non-zero when the store answered with non-2xx
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed: object store returned HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Client performs streaming GET/PUT transfers against presigned URLs.
// Transfer timeouts are independent of any job-level timeout.
type Client struct {
	httpClient      *http.Client
	downloadTimeout time.Duration
	uploadTimeout   time.Duration
}

// NewClient creates a transfer client with per-operation timeouts.
func NewClient(downloadTimeout, uploadTimeout time.Duration) *Client {
	return &Client{
		httpClient:      &http.Client{},
		downloadTimeout: downloadTimeout,
		uploadTimeout:   uploadTimeout,
	}
}

// Download streams the object behind a signed GET URL to destPath. A partial
// file is removed on any failure. Returns the number of bytes written.
func (c *Client) Download(ctx context.Context, signedURL, destPath string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return 0, &TransferError{Op: "download", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &TransferError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &TransferError{Op: "download", StatusCode: resp.StatusCode}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, &TransferError{Op: "download", Err: err}
	}

	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		return 0, &TransferError{Op: "download", Err: err}
	}
	return written, nil
}

// Upload streams body to a signed PUT URL. size must match the number of
// bytes body yields; S3-style stores reject chunked uploads to presigned URLs.
func (c *Client) Upload(ctx context.Context, signedURL, contentType string, body io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, body)
	if err != nil {
		return &TransferError{Op: "upload", Err: err}
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransferError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransferError{Op: "upload", StatusCode: resp.StatusCode}
	}
	return nil
}

var audioExtensions = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".opus"}

// ExtFromURL guesses the audio extension from a signed URL's object path so
// the scratch file keeps a format hint for the engine. Defaults to .wav.
func ExtFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ".wav"
	}
	path := strings.ToLower(parsed.Path)
	for _, ext := range audioExtensions {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ".wav"
}
