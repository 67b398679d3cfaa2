package app

import (
	"sync"

	"panel-quiz-service/internal/domain"
)

// Feed fans game snapshots out to in-process subscribers. Stores without a
// native change stream publish into it after every committed write.
type Feed struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Game]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[string]map[chan domain.Game]struct{})}
}

// Subscribe registers a channel for code and queues initial as its first value.
// The caller must invoke the returned cancel function to avoid leaks.
func (f *Feed) Subscribe(code string, initial domain.Game) (<-chan domain.Game, func()) {
	ch := make(chan domain.Game, 8)

	f.mu.Lock()
	subs, ok := f.subscribers[code]
	if !ok {
		subs = make(map[chan domain.Game]struct{})
		f.subscribers[code] = subs
	}
	subs[ch] = struct{}{}
	ch <- initial
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs, ok := f.subscribers[code]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(f.subscribers, code)
		}
	}
	return ch, cancel
}

// Publish delivers g to every subscriber of g.Code. A subscriber that has
// fallen behind loses its oldest queued snapshot, never the newest.
func (f *Feed) Publish(g domain.Game) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers[g.Code] {
		select {
		case ch <- g:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- g
		}
	}
}

// Subscribers reports how many channels listen on code.
func (f *Feed) Subscribers(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers[code])
}
