package httpx

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// SafeClient returns an http.Client which refuses to connect to loopback,
// private, and link local addresses, including after DNS resolution.
// It is used for requests to hosts chosen by users.
func SafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()
	return safeurl.Client(config).Client
}
