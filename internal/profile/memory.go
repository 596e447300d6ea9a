package profile

import (
	"strconv"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps profiles for the process lifetime.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Load(uid uint64) (Profile, bool) {
	v, ok := s.c.Get(key(uid))
	if !ok {
		return Profile{}, false
	}
	return v.(Profile), true
}

func (s *MemoryStore) Save(uid uint64, p Profile) error {
	s.c.Set(key(uid), p, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Len() int { return s.c.ItemCount() }

func (s *MemoryStore) Close() error { return nil }

func key(uid uint64) string {
	return strconv.FormatUint(uid, 10)
}
