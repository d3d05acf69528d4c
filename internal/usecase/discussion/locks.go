package discussion

import (
	"context"
	"sync"
)

// tableLocks serialises rounds per round table. Entries are dropped once no
// caller holds or waits for them.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*tableLock
}

type tableLock struct {
	sem  chan struct{}
	refs int
}

func (l *tableLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*tableLock)
	}
	tl, ok := l.locks[id]
	if !ok {
		tl = &tableLock{sem: make(chan struct{}, 1)}
		l.locks[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	drop := func() {
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}

	select {
	case tl.sem <- struct{}{}:
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-tl.sem
			drop()
		})
	}, nil
}

func (l *tableLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
