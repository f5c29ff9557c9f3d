// Package bot runs per-user trading sessions: a periodic tick loop wiring
// market data through the signal pipeline, risk manager, and execution path.
package bot

import (
	"hash/fnv"
	"sync"
	"time"

	"signalist/internal/broker"
)

// shardCount is fixed at a power of two so the modulo is cheap.
const shardCount = 16

func shardFor(userID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return h.Sum32() % shardCount
}

// Registry holds active sessions keyed by user, sharded by user id so
// unrelated users never contend on one lock.
type Registry struct {
	shards [shardCount]registryShard
}

type registryShard struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session // userID -> sessionID -> session
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]map[string]*Session)
	}
	return r
}

func (r *Registry) Add(s *Session) {
	shard := &r.shards[shardFor(s.UserID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if shard.sessions[s.UserID] == nil {
		shard.sessions[s.UserID] = make(map[string]*Session)
	}
	shard.sessions[s.UserID][s.ID] = s
}

func (r *Registry) Get(userID, sessionID string) (*Session, bool) {
	shard := &r.shards[shardFor(userID)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	s, ok := shard.sessions[userID][sessionID]
	return s, ok
}

func (r *Registry) Remove(userID, sessionID string) {
	shard := &r.shards[shardFor(userID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.sessions[userID], sessionID)
	if len(shard.sessions[userID]) == 0 {
		delete(shard.sessions, userID)
	}
}

// ByUser returns all sessions for one user.
func (r *Registry) ByUser(userID string) []*Session {
	shard := &r.shards[shardFor(userID)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	out := make([]*Session, 0, len(shard.sessions[userID]))
	for _, s := range shard.sessions[userID] {
		out = append(out, s)
	}
	return out
}

// All walks every shard.
func (r *Registry) All() []*Session {
	var out []*Session
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.RLock()
		for _, byID := range shard.sessions {
			for _, s := range byID {
				out = append(out, s)
			}
		}
		shard.mu.RUnlock()
	}
	return out
}

// Sweep removes sessions that stopped before cutoff and returns how many
// were dropped.
func (r *Registry) Sweep(cutoff time.Time) int {
	removed := 0
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		for userID, byID := range shard.sessions {
			for id, s := range byID {
				if stopped, at := s.stoppedSince(); stopped && at.Before(cutoff) {
					delete(byID, id)
					removed++
				}
			}
			if len(byID) == 0 {
				delete(shard.sessions, userID)
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// AdapterCache shares one live adapter per (user, broker) pair so several
// sessions on the same account reuse the same connection and rate budget.
type AdapterCache struct {
	shards [shardCount]adapterShard
}

type adapterShard struct {
	mu       sync.Mutex
	adapters map[string]broker.Adapter // userID|brokerName -> adapter
}

func NewAdapterCache() *AdapterCache {
	c := &AdapterCache{}
	for i := range c.shards {
		c.shards[i].adapters = make(map[string]broker.Adapter)
	}
	return c
}

// GetOrCreate returns the cached adapter for (userID, brokerName) or builds
// one with factory. The factory runs under the shard lock so concurrent
// callers never race to create duplicates.
func (c *AdapterCache) GetOrCreate(userID, brokerName string, factory func() (broker.Adapter, error)) (broker.Adapter, error) {
	shard := &c.shards[shardFor(userID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	key := userID + "|" + brokerName
	if adapter, ok := shard.adapters[key]; ok {
		return adapter, nil
	}
	adapter, err := factory()
	if err != nil {
		return nil, err
	}
	shard.adapters[key] = adapter
	return adapter, nil
}

// Drop evicts one cached adapter.
func (c *AdapterCache) Drop(userID, brokerName string) {
	shard := &c.shards[shardFor(userID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.adapters, userID+"|"+brokerName)
}
