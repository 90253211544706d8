package network

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/network/encoding"
)

var ErrFetch = errors.New("failed to query remote api")

// NewClient creates the http client shared by the directory fetchers. It
// only speaks ipv4 since the game servers themselves are v4 only and the
// directory data would otherwise reference unreachable endpoints.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _ string, addr string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "tcp4", addr)
			},
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 6 * time.Second,
		},
	}
}

// FetchJSON will query a json http service using a generic type for receiving results.
// A nil params leaves the raw URL untouched, which cursor-following callers rely on.
func FetchJSON[T any](ctx context.Context, client *http.Client, rawURL string, params url.Values) (T, error) {
	var empty T

	if params != nil {
		parsed, errParse := url.Parse(rawURL)
		if errParse != nil {
			return empty, errors.Join(errParse, ErrFetch)
		}
		parsed.RawQuery = params.Encode()
		rawURL = parsed.String()
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if errReq != nil {
		return empty, errors.Join(errReq, ErrFetch)
	}

	resp, errResp := client.Do(req)
	if errResp != nil {
		return empty, errors.Join(errResp, ErrFetch)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close response body", slog.String("error", err.Error()))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return empty, errors.Join(errors.New(resp.Status), ErrFetch)
	}

	value, errValue := encoding.UnmarshalJSON[T](resp.Body)
	if errValue != nil {
		return empty, errors.Join(errValue, ErrFetch)
	}

	return value, nil
}
