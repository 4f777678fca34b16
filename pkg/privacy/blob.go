package privacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BlobClient talks to the content-addressed blob storage service holding
// encrypted order payloads.
type BlobClient struct {
	base   string
	client *http.Client
}

func NewBlobClient(baseURL string) *BlobClient {
	return &BlobClient{
		base:   baseURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch downloads the blob bytes for a reference.
func (c *BlobClient) Fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/blobs/"+ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch blob %s: status %d", ref, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Store uploads an encrypted blob and returns its content-addressed
// reference.
func (c *BlobClient) Store(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base+"/v1/blobs", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("store blob: status %d", resp.StatusCode)
	}
	var out struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("store blob: decode response: %w", err)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("store blob: empty ref")
	}
	return out.Ref, nil
}
