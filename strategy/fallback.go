package strategy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"offworker/cache"
)

// HeaderOfflineFallback marks a synthetically generated response
const HeaderOfflineFallback = "X-Offline-Fallback"

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="150" viewBox="0 0 200 150"><rect width="200" height="150" fill="#e0e0e0"/><text x="100" y="80" text-anchor="middle" fill="#9e9e9e" font-family="sans-serif" font-size="14">offline</text></svg>`

const offlineHTML = `<!doctype html><html><head><title>Offline</title></head><body><h1>You are offline</h1><p>This page is not available without a network connection.</p></body></html>`

// OfflineFallback produces a synthetic response for a request that neither
// cache nor network could satisfy
func (e *Executor) OfflineFallback(req *http.Request, class cache.ResourceClass) *http.Response {
	switch class {
	case cache.ClassDynamic:
		if ent := e.store.MatchKey(e.offlinePage); ent != nil {
			resp := ent.Response()
			resp.Header.Set(HeaderOfflineFallback, "true")
			return resp
		}
		return synthetic(http.StatusServiceUnavailable, "text/html; charset=utf-8", []byte(offlineHTML))
	case cache.ClassImages:
		return synthetic(http.StatusOK, "image/svg+xml", []byte(placeholderSVG))
	case cache.ClassAPI:
		body := fmt.Sprintf(`{"error":"offline","message":"no network connection and no cached response","path":%q}`, req.URL.Path)
		return synthetic(http.StatusServiceUnavailable, "application/json", []byte(body))
	default:
		return synthetic(http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte("resource unavailable offline"))
	}
}

func synthetic(status int, contentType string, body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set(HeaderOfflineFallback, "true")

	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
