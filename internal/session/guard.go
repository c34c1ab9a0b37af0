package session

import "sync"

// Guard admits at most one active installation. It never queues callers.
type Guard struct {
	mu     sync.Mutex
	active bool
}

// Default is the process-wide guard shared by the CLI and the daemon.
//
//nolint:gochecknoglobals // The single shared flag of the process.
var Default = new(Guard)

// TryEnter marks a session active and returns true, or returns false
// without side effects when one is already active.
func (g *Guard) TryEnter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active {
		return false
	}

	g.active = true

	return true
}

// Leave clears the active flag.
func (g *Guard) Leave() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}

// Active reports whether a session currently holds the guard.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.active
}
