package api

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ResultStore keeps finished generations for a limited time so clients can
// fetch them by id after a streamed or dropped request.
type ResultStore struct {
	cache *ttlcache.Cache[string, Generation]
}

// NewResultStore creates a store whose entries expire after ttl. A zero
// capacity means unbounded.
func NewResultStore(ttl time.Duration, capacity uint64) *ResultStore {
	opts := []ttlcache.Option[string, Generation]{
		ttlcache.WithTTL[string, Generation](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, Generation](capacity))
	}
	return &ResultStore{cache: ttlcache.New(opts...)}
}

// Run deletes expired entries until ctx is cancelled.
func (s *ResultStore) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.cache.Stop()
	}()
	s.cache.Start()
}

func (s *ResultStore) Put(g Generation) {
	s.cache.Set(g.ID, g, ttlcache.DefaultTTL)
}

func (s *ResultStore) Get(id string) (Generation, bool) {
	item := s.cache.Get(id)
	if item == nil {
		return Generation{}, false
	}
	return item.Value(), true
}

func (s *ResultStore) Len() int {
	return s.cache.Len()
}
