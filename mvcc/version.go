package mvcc

import "sync"

// Version is one append-only entry in an entity's chain: Data nil means the
// entity (or property) was deleted at BeginTS; any other value is the
// visible payload (spec §4.8 stores this as Option<value>/Option<PropValue>
// in the source — Go's nil interface plays the same role here).
type Version struct {
	Data    interface{}
	BeginTS uint64
	TxID    uint64
	// Committed is true once the owning transaction's commit_ts has been
	// assigned; a version whose owner is still in-flight is only visible
	// to that same txid (spec §4.8's "tx_id == txid" clause).
	Committed bool
}

// Chain is one entity's version list, newest appended last.
type Chain struct {
	mu       sync.RWMutex
	versions []Version
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Append adds a new version, called once at commit for entities any
// concurrent reader might still observe (spec §4.5 commit step 7).
func (c *Chain) Append(v Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions = append(c.versions, v)
}

// MarkCommitted flips every version owned by txid to committed and stamps
// BeginTS with the transaction's allocated commit_ts, so later readers'
// Visible(ts, ...) calls see it starting exactly at that timestamp (spec
// §4.8 "begin_ts = commit_ts").
func (c *Chain) MarkCommitted(txid, commitTS uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.versions {
		if c.versions[i].TxID == txid {
			c.versions[i].Committed = true
			c.versions[i].BeginTS = commitTS
		}
	}
}

// Visible returns the newest version visible to a reader at snapshot ts
// with transaction id txid, and whether any version was found at all. A
// version is visible iff begin_ts <= ts and (it's committed or tx_id==txid)
// (spec §4.8).
func (c *Chain) Visible(ts uint64, txid uint64) (Version, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.versions) - 1; i >= 0; i-- {
		v := c.versions[i]
		if v.BeginTS > ts {
			continue
		}
		if v.Committed || v.TxID == txid {
			return v, true
		}
	}
	return Version{}, false
}

// TruncateOlderThan drops every version strictly older than floor, keeping
// at least the newest one (spec §4.8 GC: "preserving at least the latest
// version"). It returns the number of versions dropped.
func (c *Chain) TruncateOlderThan(floor uint64, maxDepth int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.versions) <= 1 {
		return 0
	}

	keepFrom := 0
	for i := 0; i < len(c.versions)-1; i++ {
		if c.versions[i].BeginTS >= floor {
			break
		}
		keepFrom = i + 1
	}
	if maxDepth > 0 {
		remaining := len(c.versions) - keepFrom
		if remaining > maxDepth {
			keepFrom = len(c.versions) - maxDepth
		}
	}
	if keepFrom == 0 {
		return 0
	}
	dropped := keepFrom
	c.versions = append([]Version(nil), c.versions[keepFrom:]...)
	return dropped
}

// Len reports the chain's current length, for diagnostics/tests.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.versions)
}
