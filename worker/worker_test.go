package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offworker/cache"
	"offworker/syncqueue"
)

func newTestWorker(t *testing.T, origin string) *Worker {
	t.Helper()
	w, err := New(&Config{
		Origin:         origin,
		Version:        "v1",
		NetworkTimeout: "2s",
	})
	require.NoError(t, err)
	w.runner.Start()
	t.Cleanup(w.runner.Stop)

	return w
}

func testOrigin(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv
}

func deadOrigin(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	return srv.URL
}

func waitForEvent(t *testing.T, w *Worker, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event arrived", kind)
		}
	}
}

func TestStartRunsLifecycle(t *testing.T) {
	assert := assert.New(t)

	origin := testOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.css" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("asset"))
	})

	w, err := New(&Config{
		Origin:   origin.URL,
		Version:  "v1",
		Precache: []string{"/offline.html", "/app.js", "/missing.css"},
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	assert.Equal(StateActivated, w.State())
	// one bad URL never aborts the batch
	assert.Equal(2, w.store.Len(cache.ClassStatic))
	assert.NotNil(w.store.MatchKey("/offline.html"))
	assert.Nil(w.store.MatchKey("/missing.css"))
}

func TestActivationIsIdempotent(t *testing.T) {
	assert := assert.New(t)

	origin := testOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset"))
	})
	w := newTestWorker(t, origin.URL)
	require.Equal(t, 1, w.Precache(context.Background(), []string{"/app.js"}))

	require.NoError(t, w.Activate())
	first := w.store.Status()
	require.NoError(t, w.Activate())

	assert.Equal(StateActivated, w.State())
	assert.Equal(first, w.store.Status())
}

func TestFetchServesAndCaches(t *testing.T) {
	assert := assert.New(t)

	origin := testOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	})
	w := newTestWorker(t, origin.URL)
	srv := httptest.NewServer(w.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/images/logo.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(200, resp.StatusCode)
	assert.NotEmpty(resp.Header.Get(cache.HeaderCachedAt))
	assert.Equal("images", resp.Header.Get(cache.HeaderResourceClass))
	assert.NotNil(w.store.MatchKey("/images/logo.png"))
}

func TestFetchAlwaysProducesAResponse(t *testing.T) {
	assert := assert.New(t)

	w := newTestWorker(t, deadOrigin(t))
	srv := httptest.NewServer(w.Router())
	defer srv.Close()

	// empty cache, dead network: the api fallback is a JSON 503
	resp, err := http.Get(srv.URL + "/api/leads")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal("application/json", resp.Header.Get("Content-Type"))
	assert.Equal("true", resp.Header.Get("X-Offline-Fallback"))

	// the failed fetch flipped the connectivity flag
	assert.False(w.IsOnline())
}

func TestOfflineMutationGetsQueued(t *testing.T) {
	assert := assert.New(t)

	w := newTestWorker(t, deadOrigin(t))
	srv := httptest.NewServer(w.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/leads", "application/json", strings.NewReader(`{"name":"Ada"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, w.queue.Len())
}

func TestOfflineFormMutationBecomesFormTask(t *testing.T) {
	assert := assert.New(t)

	w := newTestWorker(t, deadOrigin(t))
	srv := httptest.NewServer(w.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/contact", "application/x-www-form-urlencoded",
		strings.NewReader("name=Ada&email=ada%40example.com"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, w.queue.Len())

	var reply Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.True(reply.Ok)
	assert.NotEmpty(reply.TaskID)
}

func TestQueuedMutationReplaysWhenOnline(t *testing.T) {
	assert := assert.New(t)

	var replayed int32
	origin := testOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(&replayed, 1)
		}
	})

	w := newTestWorker(t, origin.URL)
	require.NoError(t, w.queue.Enqueue(&syncqueue.Task{
		Type: syncqueue.TaskAPICall,
		URL:  origin.URL + "/api/sync",
		Body: []byte(`{"x":1}`),
	}))
	w.m.Lock()
	w.isOnline = false
	w.m.Unlock()

	// the offline to online transition triggers a drain
	w.SetOnline(true)
	ev := waitForEvent(t, w, EventSyncComplete)
	assert.Equal(1, ev.Replayed)
	assert.Equal(0, w.queue.Len())
	assert.Equal(int32(1), atomic.LoadInt32(&replayed))
}

func TestPermanentFailureIsReportedOnce(t *testing.T) {
	assert := assert.New(t)

	origin := testOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	w := newTestWorker(t, origin.URL)
	require.NoError(t, w.queue.Enqueue(&syncqueue.Task{
		Type: syncqueue.TaskAPICall,
		URL:  origin.URL + "/api/sync",
	}))

	for i := 0; i < 3; i++ {
		w.queue.Drain(context.Background())
	}

	ev := waitForEvent(t, w, EventTaskFailed)
	require.NotNil(t, ev.Task)
	assert.NotEmpty(ev.Error)
	assert.Equal(0, w.queue.Len())
}

func TestTaskFailureEventSurvivesFullFeed(t *testing.T) {
	assert := assert.New(t)

	origin := testOrigin(t, func(w http.ResponseWriter, r *http.Request) {})
	w := newTestWorker(t, origin.URL)

	for i := 0; i < cap(w.events); i++ {
		w.emit(Event{Kind: EventNotification})
	}
	w.emit(Event{Kind: EventOfflineIndicator})
	w.onTaskFailed(&syncqueue.Task{ID: "t1"}, errors.New("replay failed"))

	// the failure report evicts an older event instead of being dropped
	found := false
	for len(w.events) > 0 {
		if ev := <-w.events; ev.Kind == EventTaskFailed {
			found = true
		}
	}
	assert.True(found)
}
