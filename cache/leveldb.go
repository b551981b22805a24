package cache

import (
	"bytes"
	"encoding/gob"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// entryKeyPrefix namespaces bucket entries inside the shared database
const entryKeyPrefix = "entry:"

func entryKey(bucket, key string) []byte {
	return []byte(entryKeyPrefix + bucket + ":" + key)
}

// splitEntryKey returns the bucket name and canonical key of a database key
// Bucket names never contain a colon, canonical keys may
func splitEntryKey(dbKey []byte) (string, string, bool) {
	rest := strings.TrimPrefix(string(dbKey), entryKeyPrefix)
	if rest == string(dbKey) {
		return "", "", false
	}
	i := strings.Index(rest, ":")
	if i < 0 {
		return "", "", false
	}

	return rest[:i], rest[i+1:], true
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, errors.Wrap(err, "failed to encode cache entry")
	}

	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, errors.Wrap(err, "failed to decode cache entry")
	}

	return &e, nil
}

// persist writes an entry through to the database
// Failures are logged and swallowed
func (s *Store) persist(bucket string, e *Entry) {
	if s.db == nil {
		return
	}
	data, err := encodeEntry(e)
	if err != nil {
		log.Errorf("failed to persist cache entry %s: %s", e.Key, err)
		return
	}
	if err := s.db.Put(entryKey(bucket, e.Key), data, nil); err != nil {
		log.Errorf("failed to persist cache entry %s: %s", e.Key, err)
	}
}

// unpersist removes an entry from the database
// Failures are logged and swallowed
func (s *Store) unpersist(bucket, key string) {
	if s.db == nil {
		return
	}
	if err := s.db.Delete(entryKey(bucket, key), nil); err != nil {
		log.Errorf("failed to remove cache entry %s: %s", key, err)
	}
}

// load rebuilds the in-memory bucket index from the database
// Entries belonging to stale bucket versions stay on disk until
// PurgeStaleVersions runs
func (s *Store) load() error {
	classByBucket := make(map[string]ResourceClass, len(s.classes))
	for class := range s.classes {
		classByBucket[s.BucketName(class)] = class
	}

	loaded := make(map[ResourceClass][]*Entry)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(entryKeyPrefix)), nil)
	for iter.Next() {
		bucket, _, ok := splitEntryKey(iter.Key())
		if !ok {
			continue
		}
		class, current := classByBucket[bucket]
		if !current {
			continue
		}
		e, err := decodeEntry(iter.Value())
		if err != nil {
			log.Errorf("dropping unreadable cache entry %s: %s", iter.Key(), err)
			continue
		}
		loaded[class] = append(loaded[class], e)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "failed to iterate persisted entries")
	}

	for class, entries := range loaded {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
		b := s.openLocked(class)
		for _, e := range entries {
			b.entries[e.Key] = e
			b.order = append(b.order, e.Key)
			if e.Seq >= s.nextSeq {
				s.nextSeq = e.Seq + 1
			}
		}
	}

	return nil
}

// PurgeStaleVersions deletes every persisted bucket whose name does not
// match the current version's bucket names
// Runs once per activation and is idempotent
func (s *Store) PurgeStaleVersions() error {
	if s.db == nil {
		return nil
	}
	s.m.Lock()
	defer s.m.Unlock()

	current := make(map[string]bool, len(s.classes))
	for class := range s.classes {
		current[s.BucketName(class)] = true
	}

	batch := new(leveldb.Batch)
	stale := make(map[string]int)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(entryKeyPrefix)), nil)
	for iter.Next() {
		bucket, _, ok := splitEntryKey(iter.Key())
		if !ok || current[bucket] {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		stale[bucket]++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "failed to enumerate buckets")
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "failed to delete stale buckets")
	}
	for bucket, n := range stale {
		log.Infof("purged stale bucket %s (%d entries)", bucket, n)
	}

	return nil
}
