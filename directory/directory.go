// Package directory maintains the flat table of known peers. Discovery is
// polling based: every successful contact with a peer refreshes its entry,
// and entries older than the staleness window are filtered out of reads
// rather than deleted, so a reappearing peer keeps its place in discovery
// order.
package directory

import (
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/capacity"
)

// DefaultStalenessWindow is how long a peer stays eligible for admission
// and forwarding decisions after its last successful contact.
const DefaultStalenessWindow = 5 * time.Minute

// PeerRecord describes one known peer.
type PeerRecord struct {
	ID          string            `json:"id"`
	Address     string            `json:"address"`
	Capacity    capacity.Capacity `json:"capacity"`
	Cooperative string            `json:"cooperative,omitempty"`
	LastSeen    time.Time         `json:"lastSeen"`
}

// Directory is the in-memory peer table. All mutation goes through Upsert
// under a single lock.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]*PeerRecord
	order []string // peer ids in first-discovery order

	now func() time.Time // overridable in tests
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		peers: make(map[string]*PeerRecord),
		now:   time.Now,
	}
}

// Upsert inserts or replaces a peer's record and refreshes its last-seen
// time. It must be called on every successful inbound or outbound contact
// with the peer.
func (d *Directory) Upsert(id string, record PeerRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	record.ID = id
	record.LastSeen = d.now()

	if _, exists := d.peers[id]; !exists {
		d.order = append(d.order, id)
	}
	d.peers[id] = &record
}

// List returns all peers seen within maxAge, in first-discovery order.
// Stale entries are filtered, not deleted.
func (d *Directory) List(maxAge time.Duration) []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cutoff := d.now().Add(-maxAge)
	result := make([]PeerRecord, 0, len(d.order))
	for _, id := range d.order {
		p := d.peers[id]
		if p.LastSeen.Before(cutoff) {
			continue
		}
		result = append(result, *p)
	}
	return result
}

// Count returns the number of peers seen within maxAge.
func (d *Directory) Count(maxAge time.Duration) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cutoff := d.now().Add(-maxAge)
	count := 0
	for _, p := range d.peers {
		if !p.LastSeen.Before(cutoff) {
			count++
		}
	}
	return count
}

// Get returns the record for id regardless of staleness.
func (d *Directory) Get(id string) (PeerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.peers[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *p, true
}
