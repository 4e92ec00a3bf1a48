package storage

import (
	"sync"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

// MemoryCache is a map-backed ZID cache. Nothing survives the
// process; intended for tests and for embedders that snapshot records
// into their own persistence.
type MemoryCache struct {
	mu       sync.RWMutex
	open     bool
	localZID protocol.ZID
	records  map[protocol.ZID]*Record
}

// NewMemoryCache returns an unopened in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[protocol.ZID]*Record)}
}

// Open generates the local ZID on first call; the name is ignored.
func (c *MemoryCache) Open(string) (protocol.ZID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return c.localZID, nil
	}
	zid, err := protocol.GenerateZID()
	if err != nil {
		return protocol.ZID{}, err
	}
	c.localZID = zid
	c.open = true
	return zid, nil
}

func (c *MemoryCache) Record(peer protocol.ZID) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrCacheOpen
	}
	if peer == c.localZID {
		return nil, ErrLocalZID
	}
	if rec, ok := c.records[peer]; ok {
		return rec.clone(), nil
	}
	rec := NewRecord(peer)
	c.records[peer] = rec.clone()
	return rec, nil
}

func (c *MemoryCache) SaveRecord(rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrCacheOpen
	}
	c.records[rec.ZID] = rec.clone()
	return nil
}

func (c *MemoryCache) PeerName(peer protocol.ZID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rec, ok := c.records[peer]; ok && rec.Name != "" {
		return rec.Name, true
	}
	return "", false
}

func (c *MemoryCache) PutPeerName(peer protocol.ZID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrCacheOpen
	}
	if rec, ok := c.records[peer]; ok {
		rec.Name = name
		return nil
	}
	rec := NewRecord(peer)
	rec.Name = name
	c.records[peer] = rec
	return nil
}

func (c *MemoryCache) All() ([]*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.open {
		return nil, ErrCacheOpen
	}
	records := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		if rec.IsValid() {
			records = append(records, rec.clone())
		}
	}
	return records, nil
}

// Close wipes all secret material and drops the records.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.records {
		rec.Wipe()
	}
	c.records = make(map[protocol.ZID]*Record)
	c.open = false
	return nil
}
