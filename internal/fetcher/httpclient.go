package fetcher

import (
	"net"
	"net/http"
	"time"

	"resty.dev/v3"
)

// NewHTTPClient creates the HTTP client used for all scrape requests.
// Response parsing is disabled so large payloads stream through the
// idle-read watchdog instead of being buffered by the client. Retries
// are owned by the fetcher's attempt loop, not the client: the loop has
// to release admission slots between attempts and record attempt
// counts, which client-internal retries cannot express.
func NewHTTPClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetDoNotParseResponse(true).
		SetRetryCount(0).
		SetTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})
}
