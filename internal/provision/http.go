package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-arndt/fabrik/internal/envman"
)

// Client fetches payloads from and uploads results to HTTP endpoints.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0, Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &Client{http: httpClient, logger: logger}
}

// DownloadStream opens a GET stream for uri. The returned size is -1 when the
// server does not announce a Content-Length.
func (c *Client) DownloadStream(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %v", envman.ErrTransfer, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: download %s: %v", envman.ErrTransfer, uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: download %s: unexpected status %s", envman.ErrTransfer, uri, resp.Status)
	}
	c.logger.Debug("download started", "uri", uri, "size", resp.ContentLength)
	return resp.Body, resp.ContentLength, nil
}

// Put uploads body to uri. size may be -1 for a chunked upload.
func (c *Client) Put(ctx context.Context, uri string, body io.Reader, size int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, body)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", envman.ErrTransfer, err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %v", envman.ErrTransfer, uri, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, ChunkSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unsuccessful file upload: %s", envman.ErrTransfer, resp.Status)
	}
	return fmt.Sprintf("%q file uploaded", uri), nil
}
