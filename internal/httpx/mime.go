package httpx

import (
	"mime"
	"net/http"
	"strings"
)

// MediaType returns the lower cased media type of the request, without
// parameters. Requests without a Content-Type are application/octet-stream.
func MediaType(req *http.Request) string {
	v := req.Header.Get("Content-Type")
	if v == "" {
		return "application/octet-stream"
	}
	typ, _, err := mime.ParseMediaType(v)
	if err != nil {
		// unparsable parameters; fall back to the part before the first ;.
		typ, _, _ = strings.Cut(v, ";")
		return strings.ToLower(strings.TrimSpace(typ))
	}
	return typ
}
