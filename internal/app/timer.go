package app

import (
	"sync"
	"time"
)

// RoundTimer signals answer-window expiry. At most one timer is armed per game.
type RoundTimer interface {
	Arm(code string, round int, after time.Duration, fire func())
	Disarm(code string)
	// Armed reports whether a timer is pending for code in this process.
	Armed(code string) bool
}

// AfterFuncTimer arms process-local timers with time.AfterFunc.
type AfterFuncTimer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewAfterFuncTimer() *AfterFuncTimer {
	return &AfterFuncTimer{timers: make(map[string]*time.Timer)}
}

// Arm replaces any timer already armed for code.
func (t *AfterFuncTimer) Arm(code string, _ int, after time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.timers[code]; ok {
		existing.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		t.mu.Lock()
		if t.timers[code] == timer {
			delete(t.timers, code)
		}
		t.mu.Unlock()
		fire()
	})
	t.timers[code] = timer
}

func (t *AfterFuncTimer) Disarm(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.timers[code]; ok {
		existing.Stop()
		delete(t.timers, code)
	}
}

// Armed reports whether a timer is pending for code.
func (t *AfterFuncTimer) Armed(code string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[code]
	return ok
}

type noopTimer struct{}

func (noopTimer) Arm(string, int, time.Duration, func()) {}
func (noopTimer) Disarm(string)                          {}
func (noopTimer) Armed(string) bool                       { return true }
