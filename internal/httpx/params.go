package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-json-experiment/json"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
)

var (
	decoder  = newDecoder()
	validate = validator.New()
)

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	// OAuth providers append parameters we don't care about, eg. Mastodon's
	// scope echo or Foursquare's locale.
	d.IgnoreUnknownKeys(true)
	return d
}

// Params decodes the request parameters into the given struct based on the
// method and Content-Type header, then validates it using the struct's
// `validate` tags. It returns an error if the Content-Type is not supported.
func Params(r *http.Request, v interface{}) error {
	if err := decode(r, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return Error(http.StatusBadRequest, err)
	}
	return nil
}

func decode(r *http.Request, v interface{}) error {
	switch r.Method {
	case "GET", "HEAD":
		values, err := url.ParseQuery(r.URL.RawQuery)
		if err != nil {
			return Error(http.StatusBadRequest, err)
		}
		if err := decoder.Decode(v, values); err != nil {
			return Error(http.StatusBadRequest, err)
		}
	case "POST":
		switch MediaType(r) {
		case "application/json":
			if err := json.UnmarshalFull(r.Body, v); err != nil {
				return Error(http.StatusBadRequest, err)
			}
		case "application/x-www-form-urlencoded":
			if err := r.ParseForm(); err != nil {
				return Error(http.StatusBadRequest, err)
			}
			if err := decoder.Decode(v, r.PostForm); err != nil {
				return Error(http.StatusBadRequest, err)
			}
		case "multipart/form-data":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				return Error(http.StatusBadRequest, err)
			}
			if err := decoder.Decode(v, r.PostForm); err != nil {
				return Error(http.StatusBadRequest, err)
			}
		case "application/octet-stream":
			// no Content-Type; acceptable only without a body.
			if r.ContentLength > 0 {
				return Error(http.StatusUnsupportedMediaType, errors.New("missing Content-Type"))
			}
		default:
			return Error(http.StatusUnsupportedMediaType, fmt.Errorf("unsupported media type: %q", r.Header.Get("Content-Type")))
		}
	default:
		return Error(http.StatusMethodNotAllowed, errors.New("unsupported method: "+r.Method))
	}
	return nil
}
