package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
)

// getJSON performs a GET and decodes the JSON body into out, classifying
// failures into UpstreamError kinds.
func getJSON(ctx context.Context, client *http.Client, b domain.Broker, op, rawURL string, query url.Values, header http.Header, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return upstreamErr(b, op, KindUnavailable, err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return upstreamErr(b, op, KindUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return upstreamErr(b, op, KindUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return upstreamErr(b, op, KindUnauthenticated, fmt.Errorf("http status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return upstreamErr(b, op, KindUnavailable, fmt.Errorf("http status %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return upstreamErr(b, op, KindUnavailable, err)
		}
		return upstreamErr(b, op, KindMalformed, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
