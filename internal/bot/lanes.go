package bot

import "sync"

// lanes runs work serially per chat and in parallel across chats. A
// chat's goroutine exits once its queue drains.
type lanes struct {
	mu     sync.Mutex
	queues map[int64][]func()
	wg     sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[int64][]func())}
}

// Go queues fn behind the chat's earlier work.
func (l *lanes) Go(chatID int64, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if q, busy := l.queues[chatID]; busy {
		l.queues[chatID] = append(q, fn)
		return
	}
	l.queues[chatID] = []func(){fn}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			l.mu.Lock()
			q := l.queues[chatID]
			if len(q) == 0 {
				delete(l.queues, chatID)
				l.mu.Unlock()
				return
			}
			next := q[0]
			l.queues[chatID] = q[1:]
			l.mu.Unlock()

			next()
		}
	}()
}

// Wait blocks until every queued function has run.
func (l *lanes) Wait() {
	l.wg.Wait()
}
