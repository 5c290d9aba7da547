package retry

import (
	"context"
	"io"
	"net/http"
)

// maxErrBody bounds how much of an error response body is embedded in the
// returned HTTPError.
const maxErrBody = 2048

// Fetch performs an HTTP request through the retry executor. newReq builds a
// fresh request per attempt (request bodies are single-use). Any non-2xx
// status becomes an *HTTPError carrying the status and body text, which the
// default predicate treats as retryable for 429/502/503/504. The successful
// response body is returned fully read.
func Fetch(ctx context.Context, client *http.Client, newReq func(context.Context) (*http.Request, error), opts Options) Result[[]byte] {
	if client == nil {
		client = http.DefaultClient
	}

	return Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
			return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
		}

		return io.ReadAll(resp.Body)
	}, opts)
}
