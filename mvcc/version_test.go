package mvcc

import "testing"

func TestChainVisibleRespectsBeginTSAndCommitted(t *testing.T) {
	c := NewChain()
	c.Append(Version{Data: "v1", BeginTS: 0, TxID: 1, Committed: true})
	c.Append(Version{Data: "v2", BeginTS: 10, TxID: 2, Committed: true})

	if v, ok := c.Visible(5, 99); !ok || v.Data != "v1" {
		t.Fatalf("reader at ts=5 should see v1, got %v ok=%v", v, ok)
	}
	if v, ok := c.Visible(10, 99); !ok || v.Data != "v2" {
		t.Fatalf("reader at ts=10 should see v2, got %v ok=%v", v, ok)
	}
}

func TestChainVisibleUncommittedOnlyToOwner(t *testing.T) {
	c := NewChain()
	c.Append(Version{Data: "inflight", BeginTS: 0, TxID: 5, Committed: false})

	if _, ok := c.Visible(100, 1); ok {
		t.Fatal("an uncommitted version should not be visible to a different transaction")
	}
	if v, ok := c.Visible(100, 5); !ok || v.Data != "inflight" {
		t.Fatal("an uncommitted version should be visible to its own transaction")
	}
}

func TestChainMarkCommittedStampsBeginTS(t *testing.T) {
	c := NewChain()
	c.Append(Version{Data: "v", BeginTS: 0, TxID: 1, Committed: false})
	c.MarkCommitted(1, 42)

	v, ok := c.Visible(42, 0)
	if !ok || v.BeginTS != 42 {
		t.Fatalf("MarkCommitted should stamp BeginTS with commit_ts, got %+v ok=%v", v, ok)
	}
	if _, ok := c.Visible(41, 0); ok {
		t.Fatal("version should not be visible before its commit_ts")
	}
}

func TestChainTruncateOlderThanKeepsAtLeastOne(t *testing.T) {
	c := NewChain()
	for ts := uint64(0); ts < 5; ts++ {
		c.Append(Version{Data: ts, BeginTS: ts, TxID: ts, Committed: true})
	}
	dropped := c.TruncateOlderThan(3, 0)
	if dropped != 3 {
		t.Fatalf("expected 3 versions dropped, got %d (len=%d)", dropped, c.Len())
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 versions remaining, got %d", c.Len())
	}
}

func TestChainTruncateOlderThanNeverEmptiesChain(t *testing.T) {
	c := NewChain()
	c.Append(Version{Data: 1, BeginTS: 0, TxID: 1, Committed: true})
	dropped := c.TruncateOlderThan(1000, 0)
	if dropped != 0 || c.Len() != 1 {
		t.Fatalf("a single-version chain should never be truncated to empty, dropped=%d len=%d", dropped, c.Len())
	}
}

func TestChainTruncateOlderThanRespectsMaxDepth(t *testing.T) {
	c := NewChain()
	for ts := uint64(0); ts < 10; ts++ {
		c.Append(Version{Data: ts, BeginTS: ts, TxID: ts, Committed: true})
	}
	c.TruncateOlderThan(0, 3)
	if c.Len() != 3 {
		t.Fatalf("expected chain capped to maxDepth=3, got %d", c.Len())
	}
}
