package feed

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
)

const defaultUserAgent = "feed-hub/1.0 (+https://github.com/umputun/feed-hub)"

// Fetcher retrieves raw documents. It doesn't retry, retries are up to the caller.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
}

// Fetch makes GET request with optional headers and returns response body, caller must close it.
// With strict set, a redirect to another url is reported as not found.
func (f *Fetcher) Fetch(ctx context.Context, link string, headers http.Header, strict bool) (io.ReadCloser, error) {
	hdrs := headers.Clone()
	if hdrs == nil {
		hdrs = http.Header{}
	}
	if hdrs.Get("User-Agent") == "" {
		ua := f.UserAgent
		if ua == "" {
			ua = defaultUserAgent
		}
		hdrs.Set("User-Agent", ua)
	}

	resp, err := doGet(ctx, f.Client, link, hdrs)
	if err != nil {
		return nil, err
	}

	if strict && resp.Request != nil {
		requested, err := url.Parse(link)
		if final := resp.Request.URL.String(); err == nil && final != requested.String() {
			_ = resp.Body.Close()
			return nil, &TransportError{URL: link, Status: http.StatusNotFound, Reason: "redirected to " + final, Err: ErrNotFound}
		}
	}
	return resp.Body, nil
}

// getBody is a plain GET used by key resolvers
func getBody(ctx context.Context, client *http.Client, link string, headers http.Header) (io.ReadCloser, error) {
	resp, err := doGet(ctx, client, link, headers)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// doGet returns response with 2xx status or TransportError
func doGet(ctx context.Context, client *http.Client, link string, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, &TransportError{URL: link, Reason: "bad request", Err: err}
	}
	for k, vv := range headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	return send(client, req)
}

func send(client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	link := req.URL.String()
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: link, Reason: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// keep a bit of the body for diagnostics
		msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 256))
		_ = resp.Body.Close()
		reason := resp.Status
		if s := strings.TrimSpace(string(msg)); s != "" {
			reason += ", " + s
		}
		return nil, &TransportError{URL: link, Status: resp.StatusCode, Reason: reason}
	}
	return resp, nil
}
