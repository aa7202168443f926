package util

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Chunk splits s into slices of at most size elements.
func Chunk[T any](s []T, size int) [][]T {
	if size <= 0 {
		return [][]T{s}
	}
	var out [][]T
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}

// SuccessResponse is the body of trivial OK endpoints.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrHTTP wraps an unexpected response from an external API.
type ErrHTTP struct {
	URL    string
	Status int
	Err    error
}

func (e ErrHTTP) Unwrap() error { return e.Err }
func (e ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP error (url=%s, status=%d): %s", e.URL, e.Status, e.Err)
}

// BodyAsError reads a response body and returns it as an error.
func BodyAsError(resp *http.Response) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return err
	}
	return fmt.Errorf("%s", b)
}

// UnmarshallBody decodes a JSON response body into v.
func UnmarshallBody(v any, body io.Reader) error {
	return json.NewDecoder(body).Decode(v)
}
