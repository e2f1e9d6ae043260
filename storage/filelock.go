package storage

// FileLock is an exported handle on an OS advisory lock, for callers
// outside this package that need the same single-writer guarantee the
// pager uses on its own file — namely the replication sidecar's
// primary.lock (spec §4.10).
type FileLock struct {
	inner *fileLock
}

// LockFile acquires an exclusive, non-blocking advisory lock on path+".lock".
// It returns an error if another process already holds it.
func LockFile(path string) (*FileLock, error) {
	fl, err := lockFile(path)
	if err != nil {
		return nil, err
	}
	return &FileLock{inner: fl}, nil
}

// Unlock releases the lock and removes the lock file.
func (f *FileLock) Unlock() error {
	if f == nil || f.inner == nil {
		return nil
	}
	return f.inner.unlock()
}
