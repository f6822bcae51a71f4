package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second

	// maxPayload bounds any single response body. Scenes and images
	// are small; anything past this is a broken or hostile endpoint.
	maxPayload = 32 << 20
)

// NewHTTPClient builds a client with explicit dial, TLS handshake and
// overall timeouts. The zero timeout uses the default.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{
		Timeout: defaultConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Error is a non-2xx backend response.
type Error struct {
	Status int
	URL    string
	Body   string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: %s returned %d", e.URL, e.Status)
	}
	return fmt.Sprintf("api: %s returned %d: %s", e.URL, e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// readBody consumes at most maxPayload bytes and errors when the body
// exceeds it.
func readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPayload+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPayload {
		return nil, fmt.Errorf("api: response exceeds %d bytes", maxPayload)
	}
	return data, nil
}

// responseError drains a snippet of the failed body for the message.
func responseError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &Error{
		Status: resp.StatusCode,
		URL:    resp.Request.URL.String(),
		Body:   string(snippet),
	}
}

// FetchExternal retrieves a scene payload from an absolute URL outside
// the backend, the hash-fragment import path. The caller validates the
// payload; this only moves bytes.
func FetchExternal(ctx context.Context, httpClient *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch external scene: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch external scene: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	data, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch external scene: %w", err)
	}
	return data, nil
}
