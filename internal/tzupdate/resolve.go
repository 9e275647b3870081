// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tzupdate

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPResolver resolves the host's timezone with a GET request to a
// geolocation service that returns the zone name as a plain text body.
type HTTPResolver struct {
	url    string
	client *http.Client
}

// NewHTTPResolver returns a Resolver querying url with client. If client
// is nil, http.DefaultClient is used.
func NewHTTPResolver(url string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{url: url, client: client}
}

// Resolve returns the response body verbatim. The body is not validated
// against the zone database; the timedate1 service rejects invalid names.
func (r *HTTPResolver) Resolve(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", &LookupError{Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", &LookupError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &LookupError{Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &LookupError{Err: err}
	}
	return string(b), nil
}

// LookupError indicates a failed timezone lookup.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string { return fmt.Sprintf("failed timezone lookup: %v", e.Err) }

func (e *LookupError) Unwrap() error { return e.Err }
