package cache

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
)

var (
	// ErrEntryNotFound represents an error where a cache entry was not found
	ErrEntryNotFound = errors.New("cache entry not found")
)

// New returns a new Store instance
// db holds the persisted buckets and may be shared with other components;
// a nil db keeps the store memory only
// version is baked into every bucket name, bumping it invalidates all
// previous buckets on the next PurgeStaleVersions
func New(db *leveldb.DB, version string, classes map[ResourceClass]ClassConfig) (*Store, error) {
	if version == "" {
		return nil, errors.New("cache version is empty")
	}
	if classes == nil {
		classes = DefaultClassConfigs()
	}

	s := &Store{
		db:      db,
		version: version,
		classes: classes,
		buckets: make(map[ResourceClass]*Bucket),
		nextSeq: 1,
	}
	if db != nil {
		if err := s.load(); err != nil {
			return nil, errors.Wrap(err, "failed to load persisted buckets")
		}
	}

	return s, nil
}

// Store represents a versioned set of cache buckets, one per resource class
type Store struct {
	db      *leveldb.DB
	version string
	classes map[ResourceClass]ClassConfig
	m       sync.Mutex
	buckets map[ResourceClass]*Bucket
	nextSeq uint64
}

// Bucket represents a single named cache bucket
type Bucket struct {
	// Name is the bucket name including the version suffix
	Name    string
	entries map[string]*Entry
	order   []string
}

// BucketStatus represents the reported state of a single bucket
type BucketStatus struct {
	Size int      `json:"size"`
	URLs []string `json:"urls"`
}

// Version returns the store's version string
func (s *Store) Version() string {
	return s.version
}

// BucketName returns the versioned bucket name for a resource class
func (s *Store) BucketName(class ResourceClass) string {
	cfg, ok := s.classes[class]
	if !ok {
		cfg = ClassConfig{BucketBase: string(class)}
	}
	return fmt.Sprintf("%s-%s", cfg.BucketBase, s.version)
}

// MaxAge returns the configured max entry age for a resource class
func (s *Store) MaxAge(class ResourceClass) time.Duration {
	return s.classes[class].MaxAge
}

// Open idempotently returns the current-version bucket for a class,
// creating it on first use
func (s *Store) Open(class ResourceClass) *Bucket {
	s.m.Lock()
	defer s.m.Unlock()

	return s.openLocked(class)
}

func (s *Store) openLocked(class ResourceClass) *Bucket {
	b, ok := s.buckets[class]
	if !ok {
		b = &Bucket{
			Name:    s.BucketName(class),
			entries: make(map[string]*Entry),
		}
		s.buckets[class] = b
	}

	return b
}

// Put stores an entry in the class's bucket and trims the bucket to its cap
// Persistence failures are logged, never propagated: a cache write failure
// must not fail the response being returned to the caller
func (s *Store) Put(class ResourceClass, e *Entry) {
	s.m.Lock()
	defer s.m.Unlock()

	b := s.openLocked(class)
	if _, exists := b.entries[e.Key]; !exists {
		b.order = append(b.order, e.Key)
	}
	e.Seq = s.nextSeq
	s.nextSeq++
	b.entries[e.Key] = e

	s.persist(b.Name, e)
	s.evictLocked(class, b)
}

// Match looks an entry up by canonical key across all current buckets
// Expiry is not checked here, callers decide what a fresh entry is
func (s *Store) Match(req *http.Request) *Entry {
	return s.MatchKey(CanonicalKey(req.URL))
}

// MatchKey looks an entry up by its canonical key
func (s *Store) MatchKey(key string) *Entry {
	s.m.Lock()
	defer s.m.Unlock()

	for _, b := range s.buckets {
		if e, ok := b.entries[key]; ok {
			return e
		}
	}

	return nil
}

// EvictExcess trims a class's bucket to its configured entry cap,
// removing the oldest entries by insertion order
func (s *Store) EvictExcess(class ResourceClass) {
	s.m.Lock()
	defer s.m.Unlock()

	if b, ok := s.buckets[class]; ok {
		s.evictLocked(class, b)
	}
}

func (s *Store) evictLocked(class ResourceClass, b *Bucket) {
	max := s.classes[class].MaxEntries
	if max <= 0 {
		return
	}
	for len(b.order) > max {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.entries, oldest)
		s.unpersist(b.Name, oldest)
		log.Debugf("evicted %s from %s", oldest, b.Name)
	}
}

// Len returns the entry count of a class's bucket
func (s *Store) Len(class ResourceClass) int {
	s.m.Lock()
	defer s.m.Unlock()

	if b, ok := s.buckets[class]; ok {
		return len(b.order)
	}

	return 0
}

// Status enumerates all current buckets with their entry counts and URLs
func (s *Store) Status() map[string]BucketStatus {
	s.m.Lock()
	defer s.m.Unlock()

	out := make(map[string]BucketStatus, len(s.buckets))
	for _, b := range s.buckets {
		urls := make([]string, len(b.order))
		copy(urls, b.order)
		out[b.Name] = BucketStatus{Size: len(b.order), URLs: urls}
	}

	return out
}
