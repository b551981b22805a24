package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"offworker/cache"
)

func TestResolveDefaultsToNetworkFirst(t *testing.T) {
	assert := assert.New(t)

	c := NewConfig(map[cache.ResourceClass]Name{cache.ClassImages: CacheFirst})
	assert.Equal(CacheFirst, c.Resolve(cache.ClassImages))
	assert.Equal(NetworkFirst, c.Resolve(cache.ClassAPI))
}

func TestMergePartialOverrides(t *testing.T) {
	assert := assert.New(t)

	c := NewConfig(DefaultStrategies())
	c.Merge(map[string]string{
		"api":     "cacheOnly",
		"bogus":   "cacheFirst",
		"images":  "not-a-strategy",
		"dynamic": "networkOnly",
	})

	assert.Equal(CacheOnly, c.Resolve(cache.ClassAPI))
	assert.Equal(NetworkOnly, c.Resolve(cache.ClassDynamic))
	// invalid overrides leave the previous mapping in place
	assert.Equal(CacheFirst, c.Resolve(cache.ClassImages))
	assert.Equal(CacheFirst, c.Resolve(cache.ClassStatic))
}

func TestParseName(t *testing.T) {
	assert := assert.New(t)

	for _, valid := range []string{"cacheFirst", "networkFirst", "staleWhileRevalidate", "networkOnly", "cacheOnly"} {
		name, err := ParseName(valid)
		assert.NoError(err)
		assert.Equal(Name(valid), name)
	}

	_, err := ParseName("fastest")
	assert.Error(err)
}
