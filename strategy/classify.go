package strategy

import (
	"net/http"
	"path"
	"strings"

	"offworker/cache"
)

var apiPrefixes = []string{"/api/", "/rest/", "/graphql"}

var extClasses = map[string]cache.ResourceClass{
	".png":   cache.ClassImages,
	".jpg":   cache.ClassImages,
	".jpeg":  cache.ClassImages,
	".gif":   cache.ClassImages,
	".webp":  cache.ClassImages,
	".svg":   cache.ClassImages,
	".ico":   cache.ClassImages,
	".woff":  cache.ClassFonts,
	".woff2": cache.ClassFonts,
	".ttf":   cache.ClassFonts,
	".otf":   cache.ClassFonts,
	".eot":   cache.ClassFonts,
	".js":    cache.ClassStatic,
	".css":   cache.ClassStatic,
}

// Classify resolves the resource class of a request
// Rules are evaluated top to bottom, first match wins: API path prefixes,
// then declared resource type by extension, then path conventions, then
// navigational documents, else dynamic
func Classify(req *http.Request) cache.ResourceClass {
	p := strings.ToLower(req.URL.Path)

	for _, prefix := range apiPrefixes {
		if strings.HasPrefix(p, prefix) {
			return cache.ClassAPI
		}
	}

	if class, ok := extClasses[path.Ext(p)]; ok {
		return class
	}

	if strings.Contains(p, "/fonts/") {
		return cache.ClassFonts
	}
	if strings.Contains(p, "/static/") || strings.Contains(p, "/assets/") {
		return cache.ClassStatic
	}

	// navigational documents are pinned to dynamic, any rule added below
	// this point must not reclassify them
	if IsNavigation(req) {
		return cache.ClassDynamic
	}

	return cache.ClassDynamic
}

// IsNavigation reports whether a request asks for a navigational document
func IsNavigation(req *http.Request) bool {
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}
