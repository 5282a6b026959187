package http

import "net/http"

// HTTPClient is the subset of *http.Client used by the webhook sink.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
