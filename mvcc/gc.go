package mvcc

// GCResult summarizes one garbage-collection pass, surfaced to the
// inspection CLI and to tests.
type GCResult struct {
	ChainsScanned  int
	VersionsDropped int
}

// RunGC truncates every chain's suffix older than
// min_active_snapshot_ts - retentionMS (interpreted here as a timestamp
// unit consistent with the caller's commit_ts clock — KiteDB's commit_ts is
// a logical counter, not wall-clock millis, so callers pass retentionTicks
// already converted), preserving at least the newest version per chain,
// and optionally trims further to maxChainDepth (spec §4.8).
func (m *Manager) RunGC(retentionTicks uint64, maxChainDepth int) GCResult {
	floor := m.MinActiveSnapshotTS()
	if floor > retentionTicks {
		floor -= retentionTicks
	} else {
		floor = 0
	}

	var res GCResult
	for _, chain := range m.Chains() {
		res.ChainsScanned++
		res.VersionsDropped += chain.TruncateOlderThan(floor, maxChainDepth)
	}
	m.PruneCommittedHistory(floor)
	return res
}
