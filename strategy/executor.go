package strategy

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"offworker/cache"
)

var (
	// ErrNoCachedResponse represents a cache-only request with no cached entry
	ErrNoCachedResponse = errors.New("no cached response")
)

// ExecutorConfig represents an executor config
type ExecutorConfig struct {
	// Origin is the base URL requests get fulfilled against
	Origin string
	// Timeout bounds every network fetch
	Timeout time.Duration
	// OfflinePage is the canonical key of the cached offline document
	OfflinePage string
	// Detach runs a background refresh without blocking the caller
	// A nil Detach runs refreshes on plain goroutines
	Detach func(func())
	// OnNetworkResult observes the outcome of every network fetch,
	// letting the owner track connectivity
	OnNetworkResult func(ok bool)
}

// NewExecutor returns a new Executor instance
func NewExecutor(store *cache.Store, c ExecutorConfig) (*Executor, error) {
	if c.Origin == "" {
		return nil, errors.New("no origin provided")
	}
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse origin URL")
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.OfflinePage == "" {
		c.OfflinePage = "/offline.html"
	}
	detach := c.Detach
	if detach == nil {
		detach = func(fn func()) { go fn() }
	}

	onResult := c.OnNetworkResult
	if onResult == nil {
		onResult = func(bool) {}
	}

	return &Executor{
		store:       store,
		origin:      origin,
		http:        &http.Client{Timeout: c.Timeout},
		offlinePage: c.OfflinePage,
		detach:      detach,
		onResult:    onResult,
	}, nil
}

// Executor implements the request-fulfillment strategies against a cache store
type Executor struct {
	store       *cache.Store
	origin      *url.URL
	http        *http.Client
	offlinePage string
	detach      func(func())
	onResult    func(ok bool)
}

// Do fulfills a request with the given strategy
// An unknown strategy name is handled as network-first
func (e *Executor) Do(req *http.Request, class cache.ResourceClass, name Name) (*http.Response, error) {
	switch name {
	case CacheFirst:
		return e.cacheFirst(req, class)
	case NetworkFirst:
		return e.networkFirst(req, class)
	case StaleWhileRevalidate:
		return e.staleWhileRevalidate(req, class)
	case NetworkOnly:
		return e.Forward(req)
	case CacheOnly:
		return e.cacheOnly(req)
	default:
		log.Warnf("unknown strategy %q, falling back to network-first", name)
		return e.networkFirst(req, class)
	}
}

// cacheFirst serves a fresh cached entry, otherwise the network
// An expired entry still beats a failing network
func (e *Executor) cacheFirst(req *http.Request, class cache.ResourceClass) (*http.Response, error) {
	ent := e.store.Match(req)
	if ent != nil && !ent.Expired(e.store.MaxAge(class)) {
		log.Debugf("cache-first hit %s", ent.Key)
		return ent.Response(), nil
	}

	resp, err := e.fetchAndStore(req, class)
	if err == nil {
		return resp, nil
	}
	if ent != nil {
		log.Debugf("network failed, serving expired entry %s", ent.Key)
		return ent.Response(), nil
	}

	return nil, errors.Wrap(err, "cache-first exhausted")
}

// networkFirst serves the network, falling back to any cached entry
func (e *Executor) networkFirst(req *http.Request, class cache.ResourceClass) (*http.Response, error) {
	resp, err := e.fetchAndStore(req, class)
	if err == nil {
		return resp, nil
	}

	if ent := e.store.Match(req); ent != nil {
		log.Debugf("network failed, serving cached entry %s", ent.Key)
		return ent.Response(), nil
	}

	return nil, errors.Wrap(err, "network-first exhausted")
}

// staleWhileRevalidate serves any cached entry immediately while refreshing
// it in the background, blocking on the network only when the cache is empty
// The background refresh races with later requests for the same key,
// last write wins
func (e *Executor) staleWhileRevalidate(req *http.Request, class cache.ResourceClass) (*http.Response, error) {
	ent := e.store.Match(req)
	if ent == nil {
		return e.fetchAndStore(req, class)
	}

	// the request context dies with the response, the refresh must outlive it
	refresh := req.Clone(context.Background())
	e.detach(func() {
		if _, err := e.fetchAndStore(refresh, class); err != nil {
			log.Debugf("background revalidation of %s failed: %s", refresh.URL.Path, err)
		}
	})

	return ent.Response(), nil
}

// cacheOnly serves a cached entry or fails, never touching the network
func (e *Executor) cacheOnly(req *http.Request) (*http.Response, error) {
	if ent := e.store.Match(req); ent != nil {
		return ent.Response(), nil
	}

	return nil, errors.Wrapf(ErrNoCachedResponse, "cache-only miss for %s", req.URL.Path)
}

// Warm fetches a path into a class's bucket without serving anyone
// Used by precaching
func (e *Executor) Warm(ctx context.Context, p string, class cache.ResourceClass) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to build request for %s", p)
	}

	resp, err := e.fetchAndStore(req, class)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("origin returned status %d for %s", resp.StatusCode, p)
	}

	return nil
}

// fetchAndStore fetches from the origin and snapshots successful responses
// into the class's bucket. Non-2xx responses pass through uncached.
func (e *Executor) fetchAndStore(req *http.Request, class cache.ResourceClass) (*http.Response, error) {
	resp, err := e.fetch(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	snap, err := cache.Snapshot(req, class, resp)
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot response")
	}
	e.store.Put(class, snap)

	return snap.Response(), nil
}

// fetch issues a GET for the request's path and query against the origin
func (e *Executor) fetch(req *http.Request) (*http.Response, error) {
	u := *e.origin
	u.Path = path.Join(e.origin.Path, req.URL.Path)
	u.RawQuery = req.URL.RawQuery

	out, err := http.NewRequestWithContext(req.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build origin request")
	}
	copyHeader(out.Header, req.Header)

	resp, err := e.http.Do(out)
	e.onResult(err == nil)
	if err != nil {
		return nil, errors.Wrap(err, "origin request failed")
	}

	return resp, nil
}

// Forward proxies a request to the origin as-is, body and method included
// Used for network-only fulfillment and for mutating requests
func (e *Executor) Forward(req *http.Request) (*http.Response, error) {
	u := *e.origin
	u.Path = path.Join(e.origin.Path, req.URL.Path)
	u.RawQuery = req.URL.RawQuery

	out, err := http.NewRequestWithContext(req.Context(), req.Method, u.String(), req.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build origin request")
	}
	copyHeader(out.Header, req.Header)

	resp, err := e.http.Do(out)
	e.onResult(err == nil)
	if err != nil {
		return nil, errors.Wrap(err, "origin request failed")
	}

	return resp, nil
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
