package ics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	appLog "cald/internal/log"
)

// maxBodyBytes bounds how much of a remote calendar is read.
const maxBodyBytes = 32 << 20

// Fetcher loads ICS payloads from local files or http(s) URLs.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a new ICS Fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Fetch returns the ICS payload named by source: an http(s) URL, or a
// local file path otherwise.
func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	if source == "" {
		return nil, errors.New("ics source is empty")
	}
	if !isURL(source) {
		return os.ReadFile(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")

	appLog.Info("ics fetch start", "url", redactURL(source))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	appLog.Info("ics fetch success", "url", redactURL(source), "bytes", len(body))
	return body, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
// Local paths are returned unchanged.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	if !isURL(u) {
		return u
	}
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://") + 3
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
