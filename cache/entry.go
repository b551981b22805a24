package cache

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	// HeaderCachedAt carries the unix timestamp an entry was stored at
	HeaderCachedAt = "X-Cached-At"
	// HeaderResourceClass carries the resource class an entry belongs to
	HeaderResourceClass = "X-Resource-Class"
)

// Entry represents a stored response snapshot
type Entry struct {
	// Key is the canonical URL the entry was stored under
	Key string
	// Status is the snapshotted response status code
	Status int
	// Header is the snapshotted response header set
	Header http.Header
	// Body is the full response body
	Body []byte
	// CachedAt is the unix timestamp the entry was stored at
	CachedAt int64
	// Class is the resource class the entry belongs to
	Class ResourceClass
	// Seq orders entries by insertion within a bucket
	Seq uint64
}

// Snapshot reads a response into a cacheable entry, stamping the provenance
// headers. The response body is consumed and closed.
func Snapshot(req *http.Request, class ResourceClass, resp *http.Response) (*Entry, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	header := make(http.Header, len(resp.Header)+2)
	for name, values := range resp.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	now := time.Now().Unix()
	header.Set(HeaderCachedAt, strconv.FormatInt(now, 10))
	header.Set(HeaderResourceClass, string(class))

	return &Entry{
		Key:      CanonicalKey(req.URL),
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		CachedAt: now,
		Class:    class,
	}, nil
}

// Age returns the entry's effective age
func (e *Entry) Age() time.Duration {
	return time.Duration(time.Now().Unix()-e.CachedAt) * time.Second
}

// Expired reports whether the entry's age exceeds the given max age
// A zero max age means the entry never expires
func (e *Entry) Expired(maxAge time.Duration) bool {
	if maxAge == 0 {
		return false
	}
	return e.Age() > maxAge
}

// Response builds a served response from the snapshot
// Each call returns an independent body reader
func (e *Entry) Response() *http.Response {
	header := make(http.Header, len(e.Header))
	for name, values := range e.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}

	return &http.Response{
		StatusCode:    e.Status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
	}
}

// CanonicalKey returns the canonical cache key for a request URL
// Query parameters are sorted so equivalent URLs share an entry
func CanonicalKey(u *url.URL) string {
	key := u.Path
	if q := u.Query().Encode(); q != "" {
		key += "?" + q
	}
	return key
}
