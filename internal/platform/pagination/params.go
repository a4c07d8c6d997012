package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100

	queryPageSize  = "pageSize"
	queryPageToken = "pageToken"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is one page request: its size, the raw token and the cursor decoded from it.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options override the package page size defaults for a single listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// limits fills zero values with package defaults. The default never exceeds the max.
func (o Options) limits() (fallback, ceiling int) {
	fallback, ceiling = o.DefaultPageSize, o.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	return min(fallback, ceiling), ceiling
}

// FromRequest reads pageSize and pageToken from r's query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates the query values. A pageSize above the max is clamped, not rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	size, ceiling := opts.limits()
	if raw := strings.TrimSpace(values.Get(queryPageSize)); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not a number", ErrInvalidPageSize, raw)
		case n < 1:
			return Params{}, fmt.Errorf("%w: must be at least 1", ErrInvalidPageSize)
		}
		size = min(n, ceiling)
	}

	token := strings.TrimSpace(values.Get(queryPageToken))
	cursor, err := DecodeToken(token)
	if err != nil {
		return Params{}, err
	}
	return Params{PageSize: size, PageToken: token, Cursor: cursor}, nil
}
