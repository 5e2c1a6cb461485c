package ticketgate

import (
	"sync"
	"time"
)

const replayShards = 32

// ReplayEntry is one consumed fingerprint and when it was first accepted.
type ReplayEntry struct {
	Fingerprint Fingerprint
	At          time.Time
}

// Journal durably records consumed fingerprints so replay protection
// survives a restart.
type Journal interface {
	Record(fp Fingerprint, at time.Time) error
	Prune(before time.Time) (int, error)
	Load() ([]ReplayEntry, error)
}

// ReplayOpt configures a ReplayCache.
type ReplayOpt struct {
	// Journal, if set, receives every successful insert and every sweep.
	Journal Journal

	// OnJournalError is called when the journal fails. The in-memory cache
	// stays authoritative either way.
	OnJournalError func(error)
}

// ReplayCache is a concurrent insert-if-absent set of consumed ticket
// fingerprints. Fingerprints are spread over independently locked shards.
type ReplayCache struct {
	shards  [replayShards]replayShard
	journal Journal
	onErr   func(error)
}

type replayShard struct {
	mu   sync.Mutex
	seen map[Fingerprint]time.Time
}

// NewReplayCache returns an empty cache.
func NewReplayCache(opt ReplayOpt) *ReplayCache {
	c := &ReplayCache{
		journal: opt.Journal,
		onErr:   opt.OnJournalError,
	}
	for i := range c.shards {
		c.shards[i].seen = make(map[Fingerprint]time.Time)
	}
	return c
}

func (c *ReplayCache) shard(fp Fingerprint) *replayShard {
	return &c.shards[int(fp[0])%replayShards]
}

// TryInsert records fp as consumed at at. It returns false if fp was
// already present. Exactly one of any number of concurrent callers with the
// same fingerprint sees true.
func (c *ReplayCache) TryInsert(fp Fingerprint, at time.Time) bool {
	sh := c.shard(fp)
	sh.mu.Lock()
	if _, dup := sh.seen[fp]; dup {
		sh.mu.Unlock()
		return false
	}
	sh.seen[fp] = at
	sh.mu.Unlock()

	if c.journal != nil {
		if err := c.journal.Record(fp, at); err != nil {
			c.journalError(err)
		}
	}
	return true
}

// Contains reports whether fp has been consumed and not yet swept.
func (c *ReplayCache) Contains(fp Fingerprint) bool {
	sh := c.shard(fp)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.seen[fp]
	return ok
}

// Sweep drops entries accepted more than retention before now and returns
// how many were dropped.
func (c *ReplayCache) Sweep(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	removed := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for fp, at := range sh.seen {
			if at.Before(cutoff) {
				delete(sh.seen, fp)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if c.journal != nil {
		if _, err := c.journal.Prune(cutoff); err != nil {
			c.journalError(err)
		}
	}
	return removed
}

// Len returns the number of fingerprints held.
func (c *ReplayCache) Len() int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		n += len(sh.seen)
		sh.mu.Unlock()
	}
	return n
}

// Restore loads entries without writing them back to the journal.
// Existing entries keep their earlier time.
func (c *ReplayCache) Restore(entries []ReplayEntry) {
	for _, e := range entries {
		sh := c.shard(e.Fingerprint)
		sh.mu.Lock()
		if at, ok := sh.seen[e.Fingerprint]; !ok || e.At.Before(at) {
			sh.seen[e.Fingerprint] = e.At
		}
		sh.mu.Unlock()
	}
}

// RestoreJournal loads the configured journal into the cache.
func (c *ReplayCache) RestoreJournal() (int, error) {
	if c.journal == nil {
		return 0, nil
	}
	entries, err := c.journal.Load()
	if err != nil {
		return 0, err
	}
	c.Restore(entries)
	return len(entries), nil
}

func (c *ReplayCache) journalError(err error) {
	if c.onErr != nil {
		c.onErr(err)
	}
}
