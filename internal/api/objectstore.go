package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/longlee218/goclass-editor/internal/scene"
)

// ObjectStore reads and writes sealed scenes and binary assets keyed by
// share id. Payloads are opaque here; sealing happens at the caller.
type ObjectStore struct {
	baseURL    string
	httpClient *http.Client
}

func NewObjectStore(baseURL string, httpClient *http.Client) *ObjectStore {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &ObjectStore{baseURL: baseURL, httpClient: httpClient}
}

func (c *ObjectStore) sceneURL(shareID string) string {
	return fmt.Sprintf("%s/v1/scenes/%s", c.baseURL, url.PathEscape(shareID))
}

func (c *ObjectStore) fileURL(shareID string, id scene.FileID) string {
	return fmt.Sprintf("%s/v1/scenes/%s/files/%s", c.baseURL, url.PathEscape(shareID), url.PathEscape(string(id)))
}

// FetchScene downloads the payload stored under shareID.
func (c *ObjectStore) FetchScene(ctx context.Context, shareID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sceneURL(shareID), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch scene %s: %w", shareID, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch scene %s: %w", shareID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	data, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch scene %s: %w", shareID, err)
	}
	return data, nil
}

// PutScene uploads a payload under shareID, overwriting any previous
// version.
func (c *ObjectStore) PutScene(ctx context.Context, shareID string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.sceneURL(shareID), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put scene %s: %w", shareID, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put scene %s: %w", shareID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}
	return nil
}

// FetchFile downloads one binary asset belonging to shareID, returning
// the bytes and the served content type.
func (c *ObjectStore) FetchFile(ctx context.Context, shareID string, id scene.FileID) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(shareID, id), nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch file %s: %w", id, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch file %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", responseError(resp)
	}
	data, err := readBody(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("fetch file %s: %w", id, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// PutFile uploads one binary asset under shareID.
func (c *ObjectStore) PutFile(ctx context.Context, shareID string, id scene.FileID, data []byte, mimeType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.fileURL(shareID, id), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put file %s: %w", id, err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mimeType)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put file %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}
	return nil
}
