package cache

import (
	log "github.com/sirupsen/logrus"
)

// Maintain re-trims every bucket to its cap and logs how many entries have
// gone stale. Expired entries are deliberately kept: they remain usable as
// last-resort fallbacks when the network is down.
func (s *Store) Maintain() {
	log.Debug("Started cache maintenance")
	for _, class := range Classes() {
		s.EvictExcess(class)
		if n := s.CountExpired(class); n > 0 {
			log.Debugf("bucket %s holds %d expired entries", s.BucketName(class), n)
		}
	}
	log.Debug("Finished cache maintenance")
}

// CountExpired returns the number of expired entries in a class's bucket
func (s *Store) CountExpired(class ResourceClass) int {
	maxAge := s.MaxAge(class)
	if maxAge == 0 {
		return 0
	}

	s.m.Lock()
	defer s.m.Unlock()

	b, ok := s.buckets[class]
	if !ok {
		return 0
	}
	count := 0
	for _, e := range b.entries {
		if e.Expired(maxAge) {
			count++
		}
	}

	return count
}
