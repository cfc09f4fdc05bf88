package httpclient

import (
	"net/http"
	"time"
)

// Default returns an HTTP client with timeouts so that a dead or slow
// upstream (the osu! catalog API or OAuth token endpoint) can't hang a
// request indefinitely.
func Default() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       30 * time.Second,
		},
	}
}
