package client

import (
	"context"
	"sort"
	"strings"
	"sync"

	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/paths"
)

// FileTransport is the slice of the broker API the mirror uses. *Broker
// satisfies it.
type FileTransport interface {
	ListFiles(ctx context.Context, token, path string) ([]FileEntry, error)
	ReadFile(ctx context.Context, token, path string) (*FileContent, error)
	WriteFile(ctx context.Context, token, path, content, encoding string) error
	Mkdir(ctx context.Context, token, path string) error
	DeletePath(ctx context.Context, token, path string, recursive bool) error
}

// MirrorEntry is one node of the mirrored tree, keyed by virtual path.
type MirrorEntry struct {
	Path       string
	Name       string
	IsDir      bool
	Size       int64
	ModifiedAt string
}

// RemoteFilesMirror keeps a local view of the session filesystem. Listings
// come through the directory cache, file content is loaded on demand, and
// saves are optimistic: the local state mutates immediately, writes flow
// through the coalescer, and a rejected write rolls the state back exactly.
type RemoteFilesMirror struct {
	transport FileTransport
	token     func() string
	cache     *DirectoryCache
	coalescer *WriteCoalescer

	mu        sync.Mutex
	entries   map[string]MirrorEntry
	contents  map[string]string
	modified  map[string]bool
	totalSize int64
	refresh   *refreshCall
}

type refreshCall struct {
	ready chan struct{}
	err   error
}

// MirrorOption configures a RemoteFilesMirror.
type MirrorOption func(*mirrorConfig)

type mirrorConfig struct {
	cacheOpts     []DirectoryCacheOption
	coalescerOpts []CoalescerOption
}

// WithMirrorCacheOptions forwards options to the directory cache.
func WithMirrorCacheOptions(opts ...DirectoryCacheOption) MirrorOption {
	return func(c *mirrorConfig) {
		c.cacheOpts = append(c.cacheOpts, opts...)
	}
}

// WithMirrorCoalescerOptions forwards options to the write coalescer.
func WithMirrorCoalescerOptions(opts ...CoalescerOption) MirrorOption {
	return func(c *mirrorConfig) {
		c.coalescerOpts = append(c.coalescerOpts, opts...)
	}
}

// NewRemoteFilesMirror creates a mirror over the transport. token supplies
// the current runtime token, normally SessionClient.Token.
func NewRemoteFilesMirror(transport FileTransport, token func() string, opts ...MirrorOption) *RemoteFilesMirror {
	var cfg mirrorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &RemoteFilesMirror{
		transport: transport,
		token:     token,
		entries:   make(map[string]MirrorEntry),
		contents:  make(map[string]string),
		modified:  make(map[string]bool),
	}
	m.cache = NewDirectoryCache(transport.ListFiles, cfg.cacheOpts...)
	m.coalescer = NewWriteCoalescer(m.commitWrite, cfg.coalescerOpts...)
	return m
}

// Coalescer exposes the mirror's write coalescer.
func (m *RemoteFilesMirror) Coalescer() *WriteCoalescer {
	return m.coalescer
}

// commitWrite is the coalescer's commit function.
func (m *RemoteFilesMirror) commitWrite(ctx context.Context, path, content, encoding string) error {
	token := m.token()
	if err := m.transport.WriteFile(ctx, token, path, content, encoding); err != nil {
		return err
	}
	m.cache.InvalidateToken(token)
	return nil
}

// RefreshFromRemote rebuilds the tree from remote listings. Refreshes are
// single-flight: a call made while one is running shares its result. Content
// already loaded is preserved for files still present; no file content is
// requested.
func (m *RemoteFilesMirror) RefreshFromRemote(ctx context.Context, force bool) error {
	m.mu.Lock()
	if call := m.refresh; call != nil {
		m.mu.Unlock()
		select {
		case <-call.ready:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{ready: make(chan struct{})}
	m.refresh = call
	m.mu.Unlock()

	err := m.doRefresh(ctx, force)

	m.mu.Lock()
	call.err = err
	if m.refresh == call {
		m.refresh = nil
	}
	close(call.ready)
	m.mu.Unlock()

	return err
}

func (m *RemoteFilesMirror) doRefresh(ctx context.Context, force bool) error {
	token := m.token()
	if token == "" {
		return rterrors.NewMissingToken()
	}

	fresh := make(map[string]MirrorEntry)
	queue := []string{paths.VirtualRoot}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		listed, err := m.cache.List(ctx, token, dir, force)
		if err != nil {
			return err
		}
		for _, e := range listed {
			if e.VirtualPath == "" {
				continue
			}
			fresh[e.VirtualPath] = MirrorEntry{
				Path:       e.VirtualPath,
				Name:       e.Name,
				IsDir:      e.IsDir(),
				Size:       e.Size,
				ModifiedAt: e.ModifiedAt,
			}
			if e.IsDir() {
				queue = append(queue, e.VirtualPath)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	contents := make(map[string]string)
	var total int64
	for path, content := range m.contents {
		if entry, ok := fresh[path]; ok && !entry.IsDir {
			contents[path] = content
			total += int64(len(content))
		}
	}
	for path := range m.modified {
		if _, ok := fresh[path]; !ok {
			delete(m.modified, path)
		}
	}
	m.entries = fresh
	m.contents = contents
	m.totalSize = total
	return nil
}

// Entries returns the mirrored tree sorted by path.
func (m *RemoteFilesMirror) Entries() []MirrorEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MirrorEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Entry looks up one node.
func (m *RemoteFilesMirror) Entry(virtualPath string) (MirrorEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[virtualPath]
	return e, ok
}

// TotalSize returns the byte size of all loaded file contents.
func (m *RemoteFilesMirror) TotalSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSize
}

// EnsureFileContent returns the file's content, reading it from the remote
// on first access.
func (m *RemoteFilesMirror) EnsureFileContent(ctx context.Context, virtualPath string) (string, error) {
	m.mu.Lock()
	if content, ok := m.contents[virtualPath]; ok {
		m.mu.Unlock()
		return content, nil
	}
	m.mu.Unlock()

	file, err := m.transport.ReadFile(ctx, m.token(), virtualPath)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.contents[virtualPath]; ok {
		return existing, nil
	}
	m.contents[virtualPath] = file.Content
	m.totalSize += int64(len(file.Content))
	if _, ok := m.entries[virtualPath]; !ok {
		m.entries[virtualPath] = MirrorEntry{
			Path:  virtualPath,
			Name:  baseOf(virtualPath),
			Size:  file.Size,
			IsDir: false,
		}
	}
	return file.Content, nil
}

// mirrorSnapshot captures the exact state touched by an optimistic save so
// a rejected write can be undone.
type mirrorSnapshot struct {
	path       string
	hadEntry   bool
	entry      MirrorEntry
	hadContent bool
	content    string
	modified   bool
	totalSize  int64
}

// SaveFile updates the local state immediately and enqueues the write. The
// returned channel delivers the final write result; a failed commit rolls
// the local state back to the pre-save snapshot.
func (m *RemoteFilesMirror) SaveFile(ctx context.Context, virtualPath, content string) (<-chan WriteResult, error) {
	token := m.token()
	if token == "" {
		return nil, rterrors.NewMissingToken()
	}
	if err := m.ensureParents(ctx, token, virtualPath); err != nil {
		return nil, err
	}
	m.cache.InvalidateToken(token)

	m.mu.Lock()
	snapshot := m.snapshotLocked(virtualPath)
	prevSize := int64(0)
	if snapshot.hadContent {
		prevSize = int64(len(snapshot.content))
	}
	m.entries[virtualPath] = MirrorEntry{
		Path:  virtualPath,
		Name:  baseOf(virtualPath),
		Size:  int64(len(content)),
		IsDir: false,
	}
	m.contents[virtualPath] = content
	m.modified[virtualPath] = true
	m.totalSize += int64(len(content)) - prevSize
	m.mu.Unlock()

	result := m.coalescer.Enqueue(virtualPath, content, "utf8")
	out := make(chan WriteResult, 1)
	go func() {
		res := <-result
		if res.Err != nil {
			m.rollback(snapshot)
			logger.Warnw("file save failed, rolled back local state",
				"path", virtualPath, "error", res.Err.Error())
		}
		out <- res
	}()
	return out, nil
}

// CreateFile creates an empty file.
func (m *RemoteFilesMirror) CreateFile(ctx context.Context, virtualPath string) (<-chan WriteResult, error) {
	return m.SaveFile(ctx, virtualPath, "")
}

// CreateFolder creates a directory, ensuring parents first.
func (m *RemoteFilesMirror) CreateFolder(ctx context.Context, virtualPath string) error {
	token := m.token()
	if token == "" {
		return rterrors.NewMissingToken()
	}
	if err := m.ensureParents(ctx, token, virtualPath); err != nil {
		return err
	}
	if err := m.mkdirIgnoreExists(ctx, token, virtualPath); err != nil {
		return err
	}
	m.cache.InvalidateToken(token)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[virtualPath] = MirrorEntry{
		Path:  virtualPath,
		Name:  baseOf(virtualPath),
		IsDir: true,
	}
	return nil
}

// DeleteFile removes a file. Pending writes for the path are flushed first
// so a trailing save cannot resurrect the file, then canceled.
func (m *RemoteFilesMirror) DeleteFile(ctx context.Context, virtualPath string) error {
	return m.deletePath(ctx, virtualPath, false)
}

// DeleteFolder removes a directory subtree.
func (m *RemoteFilesMirror) DeleteFolder(ctx context.Context, virtualPath string) error {
	return m.deletePath(ctx, virtualPath, true)
}

func (m *RemoteFilesMirror) deletePath(ctx context.Context, virtualPath string, recursive bool) error {
	token := m.token()
	if token == "" {
		return rterrors.NewMissingToken()
	}

	inSubtree := func(p string) bool {
		return p == virtualPath || strings.HasPrefix(p, virtualPath+"/")
	}
	if err := m.coalescer.FlushMatching(ctx, inSubtree); err != nil {
		return err
	}
	m.coalescer.CancelMatching(inSubtree)

	if err := m.transport.DeletePath(ctx, token, virtualPath, recursive); err != nil {
		return err
	}
	m.cache.InvalidateToken(token)

	m.mu.Lock()
	defer m.mu.Unlock()
	for path := range m.entries {
		if inSubtree(path) {
			delete(m.entries, path)
		}
	}
	for path, content := range m.contents {
		if inSubtree(path) {
			m.totalSize -= int64(len(content))
			delete(m.contents, path)
			delete(m.modified, path)
		}
	}
	return nil
}

// ensureParents creates every missing ancestor directory of virtualPath,
// one mkdir per segment.
func (m *RemoteFilesMirror) ensureParents(ctx context.Context, token, virtualPath string) error {
	rel := strings.TrimPrefix(virtualPath, paths.VirtualRoot)
	rel = strings.Trim(rel, "/")
	segments := strings.Split(rel, "/")
	if len(segments) <= 1 {
		return nil
	}

	dir := paths.VirtualRoot
	for _, segment := range segments[:len(segments)-1] {
		dir = dir + "/" + segment

		m.mu.Lock()
		entry, known := m.entries[dir]
		m.mu.Unlock()
		if known && entry.IsDir {
			continue
		}

		if err := m.mkdirIgnoreExists(ctx, token, dir); err != nil {
			return err
		}
		m.mu.Lock()
		m.entries[dir] = MirrorEntry{Path: dir, Name: baseOf(dir), IsDir: true}
		m.mu.Unlock()
	}
	return nil
}

func (m *RemoteFilesMirror) mkdirIgnoreExists(ctx context.Context, token, virtualPath string) error {
	err := m.transport.Mkdir(ctx, token, virtualPath)
	if err == nil || rterrors.Is(err, rterrors.CodeConflict) {
		return nil
	}
	return err
}

func (m *RemoteFilesMirror) snapshotLocked(path string) mirrorSnapshot {
	entry, hadEntry := m.entries[path]
	content, hadContent := m.contents[path]
	return mirrorSnapshot{
		path:       path,
		hadEntry:   hadEntry,
		entry:      entry,
		hadContent: hadContent,
		content:    content,
		modified:   m.modified[path],
		totalSize:  m.totalSize,
	}
}

// rollback restores the exact state captured before an optimistic save.
func (m *RemoteFilesMirror) rollback(s mirrorSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.hadEntry {
		m.entries[s.path] = s.entry
	} else {
		delete(m.entries, s.path)
	}
	if s.hadContent {
		m.contents[s.path] = s.content
	} else {
		delete(m.contents, s.path)
	}
	if s.modified {
		m.modified[s.path] = true
	} else {
		delete(m.modified, s.path)
	}
	m.totalSize = s.totalSize
}

func baseOf(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
