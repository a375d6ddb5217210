package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/boltlabs/runtimed/pkg/errors"
)

// manualTimer collects scheduled callbacks so tests fire the debounce window
// deterministically.
type manualTimer struct {
	mu      sync.Mutex
	pending []func()
}

func (m *manualTimer) fn(_ time.Duration, f func()) (stop func() bool) {
	m.mu.Lock()
	idx := len(m.pending)
	m.pending = append(m.pending, f)
	m.mu.Unlock()

	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx >= len(m.pending) || m.pending[idx] == nil {
			return false
		}
		m.pending[idx] = nil
		return true
	}
}

// fire runs every armed callback.
func (m *manualTimer) fire() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, f := range pending {
		if f != nil {
			f()
		}
	}
}

type commitRecorder struct {
	mu      sync.Mutex
	commits []string
	err     error
}

func (c *commitRecorder) commit(_ context.Context, path, content, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, path+"="+content)
	return c.err
}

func waitResult(t *testing.T, ch <-chan WriteResult) WriteResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write result")
		return WriteResult{}
	}
}

func TestRapidWritesCollapseToNewest(t *testing.T) {
	t.Parallel()

	timer := &manualTimer{}
	rec := &commitRecorder{}
	c := NewWriteCoalescer(rec.commit, WithTimer(timer.fn))

	first := c.Enqueue("src/App.jsx", "v1", "utf8")
	second := c.Enqueue("src/App.jsx", "v2", "utf8")
	timer.fire()

	res1 := waitResult(t, first)
	assert.Equal(t, WriteStatusCanceled, res1.Status)
	assert.NoError(t, res1.Err)

	res2 := waitResult(t, second)
	assert.Equal(t, WriteStatusWritten, res2.Status)
	assert.NoError(t, res2.Err)
	assert.Greater(t, res2.Generation, res1.Generation)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"src/App.jsx=v2"}, rec.commits, "only the newest write reaches the platform")
}

func TestDistinctFilesCommitIndependently(t *testing.T) {
	t.Parallel()

	timer := &manualTimer{}
	rec := &commitRecorder{}
	c := NewWriteCoalescer(rec.commit, WithTimer(timer.fn))

	a := c.Enqueue("a.txt", "1", "utf8")
	b := c.Enqueue("b.txt", "2", "utf8")
	timer.fire()

	assert.Equal(t, WriteStatusWritten, waitResult(t, a).Status)
	assert.Equal(t, WriteStatusWritten, waitResult(t, b).Status)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.commits, 2)
}

func TestCommitsSerializeInDispatchOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})

	timer := &manualTimer{}
	c := NewWriteCoalescer(func(_ context.Context, _, content, _ string) error {
		if content == "slow" {
			<-release
		}
		mu.Lock()
		order = append(order, content)
		mu.Unlock()
		return nil
	}, WithTimer(timer.fn))

	first := c.Enqueue("f.txt", "slow", "utf8")
	timer.fire()

	second := c.Enqueue("f.txt", "fast", "utf8")
	timer.fire()

	// The second commit must queue behind the in-flight one.
	select {
	case <-second:
		t.Fatal("second commit resolved before the first settled")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, WriteStatusWritten, waitResult(t, first).Status)
	assert.Equal(t, WriteStatusWritten, waitResult(t, second).Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"slow", "fast"}, order)
}

func TestCommitErrorReachesTheWrittenResult(t *testing.T) {
	t.Parallel()

	timer := &manualTimer{}
	rec := &commitRecorder{err: rterrors.NewInternal("platform write failed", nil)}
	c := NewWriteCoalescer(rec.commit, WithTimer(timer.fn))

	ch := c.Enqueue("f.txt", "v1", "utf8")
	timer.fire()

	res := waitResult(t, ch)
	assert.Equal(t, WriteStatusWritten, res.Status)
	assert.Error(t, res.Err)
}

func TestFlushDispatchesWithoutWaitingForDebounce(t *testing.T) {
	t.Parallel()

	timer := &manualTimer{}
	rec := &commitRecorder{}
	c := NewWriteCoalescer(rec.commit, WithTimer(timer.fn))

	ch := c.Enqueue("f.txt", "v1", "utf8")
	require.NoError(t, c.Flush(context.Background(), "f.txt"))

	res := waitResult(t, ch)
	assert.Equal(t, WriteStatusWritten, res.Status)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"f.txt=v1"}, rec.commits)
}

func TestFlushUnknownPathIsNoop(t *testing.T) {
	t.Parallel()

	c := NewWriteCoalescer((&commitRecorder{}).commit)
	assert.NoError(t, c.Flush(context.Background(), "never-written.txt"))
}

func TestCancelResolvesPendingWithoutCommit(t *testing.T) {
	t.Parallel()

	timer := &manualTimer{}
	rec := &commitRecorder{}
	c := NewWriteCoalescer(rec.commit, WithTimer(timer.fn))

	ch := c.Enqueue("f.txt", "v1", "utf8")
	c.Cancel("f.txt")

	res := waitResult(t, ch)
	assert.Equal(t, WriteStatusCanceled, res.Status)

	timer.fire()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.commits)
}

func TestCancelMatchingOnlyTouchesMatches(t *testing.T) {
	t.Parallel()

	timer := &manualTimer{}
	rec := &commitRecorder{}
	c := NewWriteCoalescer(rec.commit, WithTimer(timer.fn))

	inside := c.Enqueue("src/a.txt", "1", "utf8")
	outside := c.Enqueue("docs/b.txt", "2", "utf8")

	c.CancelMatching(func(path string) bool { return path == "src/a.txt" })
	assert.Equal(t, WriteStatusCanceled, waitResult(t, inside).Status)

	timer.fire()
	assert.Equal(t, WriteStatusWritten, waitResult(t, outside).Status)
}

func TestFlushAllSettlesEverything(t *testing.T) {
	t.Parallel()

	timer := &manualTimer{}
	rec := &commitRecorder{}
	c := NewWriteCoalescer(rec.commit, WithTimer(timer.fn))

	a := c.Enqueue("a.txt", "1", "utf8")
	b := c.Enqueue("b.txt", "2", "utf8")
	require.NoError(t, c.FlushAll(context.Background()))

	assert.Equal(t, WriteStatusWritten, waitResult(t, a).Status)
	assert.Equal(t, WriteStatusWritten, waitResult(t, b).Status)
}
