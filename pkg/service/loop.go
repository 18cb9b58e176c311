package service

import (
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/accessory"
)

// loop runs closures one at a time on a single goroutine. The engine is
// only ever touched from there.
type loop struct {
	work chan func()
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newLoop(depth int) *loop {
	l := &loop{
		work: make(chan func(), depth),
		done: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *loop) run() {
	defer l.wg.Done()
	for {
		select {
		case fn := <-l.work:
			fn()
		case <-l.done:
			return
		}
	}
}

// post queues fn and reports whether the loop accepted it. It must not be
// called from the loop goroutine when the queue may be full.
func (l *loop) post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.work <- fn:
		return true
	case <-l.done:
		return false
	}
}

// do runs fn on the loop and waits for it. Calling do from the loop
// goroutine deadlocks.
func (l *loop) do(fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrNotStarted
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrNotStarted
	}
}

// stop ends the loop after the closure in progress. Queued work is dropped.
func (l *loop) stop() {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
}

// loopTimers implements accessory.Timers with time.AfterFunc. Fires are
// posted to the loop so they run on the engine goroutine.
type loopTimers struct {
	loop *loop

	mu     sync.Mutex
	next   accessory.TimerHandle
	timers map[accessory.TimerHandle]*time.Timer
}

func newLoopTimers(l *loop) *loopTimers {
	return &loopTimers{
		loop:   l,
		timers: make(map[accessory.TimerHandle]*time.Timer),
	}
}

// StartTimer arms a single-shot timer.
func (t *loopTimers) StartTimer(d time.Duration, fire func()) (accessory.TimerHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	h := t.next
	t.timers[h] = time.AfterFunc(d, func() {
		t.mu.Lock()
		_, live := t.timers[h]
		delete(t.timers, h)
		t.mu.Unlock()
		if live {
			t.loop.post(fire)
		}
	})
	return h, nil
}

// StopTimer cancels h. A fire already posted to the loop still runs; the
// engine ignores fires of timers it stopped.
func (t *loopTimers) StopTimer(h accessory.TimerHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[h]; ok {
		tm.Stop()
		delete(t.timers, h)
	}
}

// stopAll cancels every armed timer.
func (t *loopTimers) stopAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.timers)
	for h, tm := range t.timers {
		tm.Stop()
		delete(t.timers, h)
	}
	return n
}

// Len returns the number of armed timers.
func (t *loopTimers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
