package service

import (
	"context"
	"io"
	"net/http"
	"time"

	errors "github.com/Laisky/errors/v2"
)

const downloadTimeout = 60 * time.Second

// httpDownloader fetches attachment payloads from the platform CDN.
type httpDownloader struct {
	cli *http.Client
}

func newHTTPDownloader() *httpDownloader {
	return &httpDownloader{
		cli: &http.Client{Timeout: downloadTimeout},
	}
}

func (d *httpDownloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := d.cli.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch `%s`", url)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch `%s`: status %d", url, resp.StatusCode)
	}

	// payloads above the inline threshold land in the blob store whole,
	// so the body must never be clipped here
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read body of `%s`", url)
	}

	return data, nil
}
