package cache

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryExpired(t *testing.T) {
	assert := assert.New(t)
	maxAge := 10 * time.Minute

	fresh := &Entry{CachedAt: time.Now().Add(-maxAge + time.Second).Unix()}
	assert.False(fresh.Expired(maxAge))

	stale := &Entry{CachedAt: time.Now().Add(-maxAge - time.Second).Unix()}
	assert.True(stale.Expired(maxAge))

	// zero max age never expires
	ancient := &Entry{CachedAt: 0}
	assert.False(ancient.Expired(0))
}

func TestSnapshotStampsProvenance(t *testing.T) {
	assert := assert.New(t)

	req := httptest.NewRequest("GET", "/api/leads?b=2&a=1", nil)
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(`{"ok":true}`))),
	}

	e, err := Snapshot(req, ClassAPI, resp)
	require.NoError(t, err)

	assert.Equal("/api/leads?a=1&b=2", e.Key)
	assert.Equal(ClassAPI, e.Class)
	assert.Equal([]byte(`{"ok":true}`), e.Body)
	assert.NotEmpty(e.Header.Get(HeaderCachedAt))
	assert.Equal(string(ClassAPI), e.Header.Get(HeaderResourceClass))
	assert.InDelta(time.Now().Unix(), e.CachedAt, 2)
}

func TestEntryResponseIndependentReaders(t *testing.T) {
	assert := assert.New(t)

	e := &Entry{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte("hello"),
	}

	first, err := io.ReadAll(e.Response().Body)
	assert.NoError(err)
	second, err := io.ReadAll(e.Response().Body)
	assert.NoError(err)
	assert.Equal(first, second)
	assert.Equal(int64(5), e.Response().ContentLength)
}

func TestCanonicalKey(t *testing.T) {
	assert := assert.New(t)

	u1, _ := url.Parse("/page?b=2&a=1")
	u2, _ := url.Parse("/page?a=1&b=2")
	assert.Equal(CanonicalKey(u1), CanonicalKey(u2))

	plain, _ := url.Parse("/page")
	assert.Equal("/page", CanonicalKey(plain))
}
