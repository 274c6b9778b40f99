package session

import (
	"sync"

	"github.com/warren-mq/warren/config"
)

var (
	globalMu   sync.Mutex
	globalPool *Pool
)

// DefaultPool returns the process-wide connection pool, creating it on
// first use with the given configuration.
func DefaultPool(cfg *config.Config) (*Pool, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool != nil {
		return globalPool, nil
	}
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	globalPool = pool
	return globalPool, nil
}

// ResetGlobalConnection drops the process-wide pool so the next use
// re-dials. Host boot hooks call this in each child after a fork; a
// forked process must never publish over the parent's sockets.
func ResetGlobalConnection() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool != nil {
		globalPool.Close()
		globalPool = nil
	}
}

// OnFork is the contract hosts call after forking a worker.
func OnFork() {
	ResetGlobalConnection()
}
