// Package httpclient configures the HTTP client used to call the geometry
// service and GeoServer.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates an outbound client. Per-stage deadlines come from the
// caller's context; timeout is only a ceiling and may be zero.
func NewOutbound(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
