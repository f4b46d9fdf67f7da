package protocol

import "sync"

// chatLocks serializes mutations per chat id. Entries are reference counted
// and dropped when the last holder releases, so the map never grows with the
// number of chats ever touched.
type chatLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{entries: make(map[string]*lockEntry)}
}

// Lock acquires the per-chat mutex and returns its release function.
func (l *chatLocks) Lock(chatID string) func() {
	l.mu.Lock()
	e, ok := l.entries[chatID]
	if !ok {
		e = &lockEntry{}
		l.entries[chatID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, chatID)
		}
		l.mu.Unlock()
	}
}
