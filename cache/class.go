package cache

import "time"

// ResourceClass represents a category of request governing which bucket
// and caching policy applies
type ResourceClass string

const (
	// ClassStatic represents application shell assets (scripts, styles)
	ClassStatic ResourceClass = "static"
	// ClassDynamic represents navigational documents and other pages
	ClassDynamic ResourceClass = "dynamic"
	// ClassAPI represents API responses
	ClassAPI ResourceClass = "api"
	// ClassImages represents image resources
	ClassImages ResourceClass = "images"
	// ClassFonts represents font resources
	ClassFonts ResourceClass = "fonts"
)

// Classes returns all known resource classes
func Classes() []ResourceClass {
	return []ResourceClass{ClassStatic, ClassDynamic, ClassAPI, ClassImages, ClassFonts}
}

// ClassConfig represents the bucket policy for a single resource class
type ClassConfig struct {
	// BucketBase is the bucket name prefix, the version string gets appended
	BucketBase string
	// MaxEntries caps the bucket entry count, 0 means uncapped
	MaxEntries int
	// MaxAge is the entry expiration age, 0 means entries never expire
	MaxAge time.Duration
}

// DefaultClassConfigs returns the default bucket policies per resource class
func DefaultClassConfigs() map[ResourceClass]ClassConfig {
	return map[ResourceClass]ClassConfig{
		ClassStatic:  {BucketBase: "static-cache", MaxEntries: 100, MaxAge: 7 * 24 * time.Hour},
		ClassDynamic: {BucketBase: "dynamic-cache", MaxEntries: 50, MaxAge: 24 * time.Hour},
		ClassAPI:     {BucketBase: "api-cache", MaxEntries: 50, MaxAge: 5 * time.Minute},
		ClassImages:  {BucketBase: "image-cache", MaxEntries: 60, MaxAge: 30 * 24 * time.Hour},
		ClassFonts:   {BucketBase: "font-cache", MaxEntries: 20, MaxAge: 365 * 24 * time.Hour},
	}
}
