package strategy

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"offworker/cache"
)

func TestClassify(t *testing.T) {
	assert := assert.New(t)

	cases := map[string]cache.ResourceClass{
		"/api/leads":             cache.ClassAPI,
		"/api/contacts?page=2":   cache.ClassAPI,
		"/graphql":               cache.ClassAPI,
		"/images/logo.png":       cache.ClassImages,
		"/media/photo.JPEG":      cache.ClassImages,
		"/favicon.ico":           cache.ClassImages,
		"/fonts/inter.woff2":     cache.ClassFonts,
		"/assets/type/sans.ttf":  cache.ClassFonts,
		"/fonts/custom":          cache.ClassFonts,
		"/static/app.js":         cache.ClassStatic,
		"/bundle.css":            cache.ClassStatic,
		"/assets/manifest.json5": cache.ClassStatic,
		"/dashboard":             cache.ClassDynamic,
		"/":                      cache.ClassDynamic,
	}

	for path, want := range cases {
		req := httptest.NewRequest("GET", path, nil)
		assert.Equal(want, Classify(req), "path %s", path)
	}
}

func TestClassifyAPIBeatsExtension(t *testing.T) {
	assert := assert.New(t)

	// API prefix wins even for image-looking paths
	req := httptest.NewRequest("GET", "/api/export/report.png", nil)
	assert.Equal(cache.ClassAPI, Classify(req))
}

func TestIsNavigation(t *testing.T) {
	assert := assert.New(t)

	req := httptest.NewRequest("GET", "/dashboard", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	assert.True(IsNavigation(req))

	api := httptest.NewRequest("GET", "/api/leads", nil)
	api.Header.Set("Accept", "application/json")
	assert.False(IsNavigation(api))

	post := httptest.NewRequest("POST", "/form", nil)
	post.Header.Set("Accept", "text/html")
	assert.False(IsNavigation(post))
}

func TestClassifyNavigationIsDynamic(t *testing.T) {
	assert := assert.New(t)

	req := httptest.NewRequest("GET", "/leads/42", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	assert.Equal(cache.ClassDynamic, Classify(req))
}
