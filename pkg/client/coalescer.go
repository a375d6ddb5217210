package client

import (
	"context"
	"sync"
	"time"
)

// defaultDebounce is how long a write sits before it is committed. Rapid
// successive writes to the same file within the window collapse into one.
const defaultDebounce = 200 * time.Millisecond

// WriteStatus is the terminal status of an enqueued write.
type WriteStatus string

const (
	// WriteStatusWritten means the write reached the platform.
	WriteStatusWritten WriteStatus = "written"

	// WriteStatusCanceled means a newer write superseded this one, or the
	// write was canceled before dispatch. Canceled writes are not failures.
	WriteStatusCanceled WriteStatus = "canceled"
)

// WriteResult is delivered exactly once per enqueued write.
type WriteResult struct {
	Generation uint64
	Status     WriteStatus

	// Err is set when the committed write failed at the platform. Only a
	// result with Status written can carry an error.
	Err error
}

// CommitFunc performs the underlying platform write.
type CommitFunc func(ctx context.Context, path, content, encoding string) error

// WriteCoalescer debounces and collapses file writes. Per file, only the
// newest pending generation is ever committed, commits are serialized in
// dispatch order, and every enqueued generation resolves exactly once.
// Writes to distinct files proceed independently.
type WriteCoalescer struct {
	commit   CommitFunc
	debounce time.Duration
	timer    timerFunc

	mu    sync.Mutex
	files map[string]*coalescedFile
}

// timerFunc schedules f after d and returns a stop function. Swapped out in
// tests for a manual trigger.
type timerFunc func(d time.Duration, f func()) (stop func() bool)

func realTimer(d time.Duration, f func()) (stop func() bool) {
	t := time.AfterFunc(d, f)
	return t.Stop
}

type writeJob struct {
	generation uint64
	content    string
	encoding   string
}

type coalescedFile struct {
	latestGeneration uint64
	latest           *writeJob
	stopTimer        func() bool
	pending          map[uint64]chan WriteResult

	// chain is closed when the most recently dispatched commit for this file
	// has settled. Each dispatch replaces it, waiting on the previous one.
	chain chan struct{}
}

// CoalescerOption configures a WriteCoalescer.
type CoalescerOption func(*WriteCoalescer)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) CoalescerOption {
	return func(c *WriteCoalescer) {
		c.debounce = d
	}
}

// WithTimer overrides timer creation, for tests.
func WithTimer(t timerFunc) CoalescerOption {
	return func(c *WriteCoalescer) {
		c.timer = t
	}
}

// NewWriteCoalescer creates a coalescer that commits through fn.
func NewWriteCoalescer(fn CommitFunc, opts ...CoalescerOption) *WriteCoalescer {
	c := &WriteCoalescer{
		commit:   fn,
		debounce: defaultDebounce,
		timer:    realTimer,
		files:    make(map[string]*coalescedFile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue schedules a write for path. The returned channel delivers exactly
// one WriteResult once the write is committed or superseded.
func (c *WriteCoalescer) Enqueue(path, content, encoding string) <-chan WriteResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	fs := c.files[path]
	if fs == nil {
		chain := make(chan struct{})
		close(chain)
		fs = &coalescedFile{
			pending: make(map[uint64]chan WriteResult),
			chain:   chain,
		}
		c.files[path] = fs
	}

	fs.latestGeneration++
	generation := fs.latestGeneration
	result := make(chan WriteResult, 1)
	fs.pending[generation] = result
	fs.latest = &writeJob{generation: generation, content: content, encoding: encoding}

	if fs.stopTimer != nil {
		fs.stopTimer()
	}
	fs.stopTimer = c.timer(c.debounce, func() { c.dispatch(path) })

	return result
}

// dispatch commits the latest pending job for path, canceling every older
// pending generation.
func (c *WriteCoalescer) dispatch(path string) {
	c.mu.Lock()
	fs := c.files[path]
	if fs == nil || fs.latest == nil {
		c.mu.Unlock()
		return
	}

	job := *fs.latest
	fs.latest = nil
	fs.stopTimer = nil

	for generation, ch := range fs.pending {
		if generation < job.generation {
			ch <- WriteResult{Generation: generation, Status: WriteStatusCanceled}
			delete(fs.pending, generation)
		}
	}
	resolver := fs.pending[job.generation]
	delete(fs.pending, job.generation)

	previous := fs.chain
	done := make(chan struct{})
	fs.chain = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		<-previous
		err := c.commit(context.Background(), path, job.content, job.encoding)
		resolver <- WriteResult{Generation: job.generation, Status: WriteStatusWritten, Err: err}
	}()
}

// Flush immediately dispatches any pending write for path and waits until
// all in-flight commits for it have settled, including writes enqueued while
// flushing.
func (c *WriteCoalescer) Flush(ctx context.Context, path string) error {
	for {
		c.mu.Lock()
		fs := c.files[path]
		if fs == nil {
			c.mu.Unlock()
			return nil
		}
		hasLatest := fs.latest != nil
		chain := fs.chain
		c.mu.Unlock()

		if hasLatest {
			c.dispatch(path)
			continue
		}

		select {
		case <-chain:
		case <-ctx.Done():
			return ctx.Err()
		}

		c.mu.Lock()
		fs = c.files[path]
		settled := fs == nil || (fs.latest == nil && fs.chain == chain)
		c.mu.Unlock()
		if settled {
			return nil
		}
	}
}

// FlushAll flushes every file with pending or in-flight writes.
func (c *WriteCoalescer) FlushAll(ctx context.Context) error {
	for _, path := range c.paths() {
		if err := c.Flush(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// FlushMatching flushes every file whose path satisfies the predicate.
func (c *WriteCoalescer) FlushMatching(ctx context.Context, match func(path string) bool) error {
	for _, path := range c.paths() {
		if match(path) {
			if err := c.Flush(ctx, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cancel drops any pending write for path. Every unresolved generation
// resolves canceled. In-flight commits are not interrupted.
func (c *WriteCoalescer) Cancel(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(path)
}

// CancelMatching cancels every file whose path satisfies the predicate.
func (c *WriteCoalescer) CancelMatching(match func(path string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.files {
		if match(path) {
			c.cancelLocked(path)
		}
	}
}

func (c *WriteCoalescer) cancelLocked(path string) {
	fs := c.files[path]
	if fs == nil {
		return
	}
	if fs.stopTimer != nil {
		fs.stopTimer()
		fs.stopTimer = nil
	}
	fs.latest = nil
	for generation, ch := range fs.pending {
		ch <- WriteResult{Generation: generation, Status: WriteStatusCanceled}
		delete(fs.pending, generation)
	}
}

func (c *WriteCoalescer) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.files))
	for path := range c.files {
		out = append(out, path)
	}
	return out
}
