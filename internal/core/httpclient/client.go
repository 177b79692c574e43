// Package httpclient configures the HTTP client used to call the imagery catalog and geocoder.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// NewOutbound creates a new outbound http client
func NewOutbound(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		// asset downloads are large; searches finish well under this
		opts.Timeout = 2 * time.Minute
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	var rt http.RoundTripper = transport
	if opts.UserAgent != "" {
		rt = userAgent{next: transport, ua: opts.UserAgent}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   opts.Timeout,
	}
}

type userAgent struct {
	next http.RoundTripper
	ua   string
}

func (u userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", u.ua)
	return u.next.RoundTrip(r)
}
