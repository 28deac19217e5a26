package vfskit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// ChangeToken Implementations
// ============================================================================

// CallbackChangeToken is signaled by its producer, typically a native file
// system event watcher.
type CallbackChangeToken struct {
	mu        sync.RWMutex
	changed   atomic.Bool
	callbacks []func()
}

// NewCallbackChangeToken creates a token that invokes callbacks on change.
func NewCallbackChangeToken() *CallbackChangeToken {
	return &CallbackChangeToken{}
}

func (t *CallbackChangeToken) HasChanged() bool {
	return t.changed.Load()
}

func (t *CallbackChangeToken) ActiveChangeCallbacks() bool {
	return true
}

func (t *CallbackChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, callback)
	index := len(t.callbacks) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if index < len(t.callbacks) {
			t.callbacks[index] = nil
		}
	}
}

// SignalChange marks the token as changed and invokes the callbacks once.
func (t *CallbackChangeToken) SignalChange() {
	if t.changed.Swap(true) {
		return
	}

	t.mu.RLock()
	callbacks := make([]func(), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

// ============================================================================
// Polling ChangeToken
// ============================================================================

// StatFunc reports the current modification time and size of a file.
type StatFunc func(ctx context.Context) (modTime time.Time, size int64, exists bool, err error)

// PollingChangeToken detects changes of files whose protocol has no event
// notification by comparing stat results at an interval. It stops polling
// after the first change, when ctx is done or when Stop is called.
type PollingChangeToken struct {
	*CallbackChangeToken
	cancel context.CancelFunc
}

// NewPollingChangeToken polls stat every interval (5 seconds when zero)
// and signals when the modification time, size or existence differs from
// the first observation. Stat errors count as no change.
func NewPollingChangeToken(ctx context.Context, interval time.Duration, stat StatFunc) *PollingChangeToken {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &PollingChangeToken{CallbackChangeToken: NewCallbackChangeToken(), cancel: cancel}

	mod0, size0, exists0, err0 := stat(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mod, size, exists, err := stat(ctx)
				if err != nil || err0 != nil {
					continue
				}
				if exists != exists0 || size != size0 || !mod.Equal(mod0) {
					t.SignalChange()
					cancel()
					return
				}
			}
		}
	}()
	return t
}

// Stop ends polling. It is safe to call more than once.
func (t *PollingChangeToken) Stop() {
	t.cancel()
}

// NeverChangeToken is a ChangeToken that never changes.
type NeverChangeToken struct{}

func (NeverChangeToken) HasChanged() bool { return false }

func (NeverChangeToken) ActiveChangeCallbacks() bool { return false }

func (NeverChangeToken) RegisterChangeCallback(callback func()) func() { return func() {} }

// ============================================================================
// Helper: OnChange
// ============================================================================

// OnChange calls changeAction every time a token from tokenProducer fires,
// requesting a new token after each change. It stops when tokenProducer
// fails or the returned cancel func is called.
//
//	cancel := vfskit.OnChange(
//	    func() (vfskit.ChangeToken, error) { return w.Watch(ctx) },
//	    func() { dir.List(ctx, nil) },
//	)
//	defer cancel()
func OnChange(tokenProducer func() (ChangeToken, error), changeAction func()) (cancel func()) {
	ctx, cancelFunc := context.WithCancel(context.Background())

	go func() {
		for {
			token, err := tokenProducer()
			if err != nil {
				return
			}

			done := make(chan struct{})
			var once sync.Once
			unregister := token.RegisterChangeCallback(func() {
				once.Do(func() { close(done) })
			})
			if token.HasChanged() {
				once.Do(func() { close(done) })
			}

			select {
			case <-ctx.Done():
				unregister()
				return
			case <-done:
				unregister()
				changeAction()
			}
		}
	}()

	return cancelFunc
}
