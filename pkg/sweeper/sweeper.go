// Package sweeper garbage-collects runtime sessions whose lease has expired.
package sweeper

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boltlabs/runtimed/pkg/dokploy"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/metadata"
	"github.com/boltlabs/runtimed/pkg/telemetry"
)

// bulkSweepConcurrency bounds concurrent per-actor sweeps during RunAll.
const bulkSweepConcurrency = 4

// Platform is the slice of the platform client the sweeper depends on.
// *dokploy.Client satisfies it.
type Platform interface {
	ListProjects(ctx context.Context, requestID string) ([]dokploy.Project, error)
	GetProject(ctx context.Context, projectID, requestID string) (*dokploy.Project, error)
	DeleteCompose(ctx context.Context, composeID string, deleteVolumes bool, requestID string) error
}

// Sweeper deletes composes past their idle TTL. Sweeps are actor-scoped and
// non-reentrant: a second invocation for an actor already being swept returns
// immediately instead of queueing, which keeps heartbeat-triggered sweeps
// from piling up.
type Sweeper struct {
	platform Platform
	now      func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// New creates a sweeper over the given platform.
func New(platform Platform, opts ...Option) *Sweeper {
	s := &Sweeper{
		platform: platform,
		now:      time.Now,
		active:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tryLock claims the actor for sweeping. It never blocks.
func (s *Sweeper) tryLock(actorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.active[actorID]; held {
		return false
	}
	s.active[actorID] = struct{}{}
	return true
}

func (s *Sweeper) unlock(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, actorID)
}

// Run sweeps expired sessions for one actor. Deletions are best-effort; the
// sweep continues past individual failures and only enumeration errors are
// returned.
func (s *Sweeper) Run(ctx context.Context, actorID, requestID string) error {
	if actorID == "" {
		return nil
	}
	if !s.tryLock(actorID) {
		logger.Debugw("idle sweep already running, skipping", "actorId", actorID)
		return nil
	}
	defer s.unlock(actorID)

	telemetry.SweepsRun.Inc()

	projects, err := s.platform.ListProjects(ctx, requestID)
	if err != nil {
		return err
	}

	now := s.now().UnixMilli()
	for _, p := range projects {
		project, err := s.platform.GetProject(ctx, p.ProjectID, requestID)
		if err != nil {
			logger.Warnw("sweep: failed to load project",
				"projectId", p.ProjectID, "error", err.Error())
			continue
		}
		for _, env := range project.Environments {
			for _, compose := range env.Composes {
				meta := metadata.Parse(compose.Description)
				if meta == nil || meta.ActorID != actorID {
					continue
				}
				if !expired(meta, now) {
					continue
				}
				if err := s.platform.DeleteCompose(ctx, compose.ComposeID, true, requestID); err != nil {
					logger.Warnw("sweep: failed to delete expired compose",
						"composeId", compose.ComposeID, "actorId", actorID, "error", err.Error())
					continue
				}
				telemetry.ComposesDeleted.Inc()
				logger.Infow("sweep: deleted expired compose",
					"composeId", compose.ComposeID, "actorId", actorID, "chatId", meta.ChatID)
			}
		}
	}

	return nil
}

// RunAll sweeps every actor that owns at least one compose. It returns the
// number of distinct actors seen.
func (s *Sweeper) RunAll(ctx context.Context, requestID string) (int, error) {
	projects, err := s.platform.ListProjects(ctx, requestID)
	if err != nil {
		return 0, err
	}

	actors := make(map[string]struct{})
	for _, p := range projects {
		project, err := s.platform.GetProject(ctx, p.ProjectID, requestID)
		if err != nil {
			logger.Warnw("bulk sweep: failed to load project",
				"projectId", p.ProjectID, "error", err.Error())
			continue
		}
		for _, env := range project.Environments {
			for _, compose := range env.Composes {
				if meta := metadata.Parse(compose.Description); meta != nil {
					actors[meta.ActorID] = struct{}{}
				}
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkSweepConcurrency)
	for actorID := range actors {
		g.Go(func() error {
			if err := s.Run(gctx, actorID, requestID); err != nil {
				logger.Warnw("bulk sweep: actor sweep failed",
					"actorId", actorID, "error", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(actors), nil
}

func expired(meta *metadata.Metadata, nowMilli int64) bool {
	return meta.LastSeenAt+int64(meta.IdleTTLSec)*1000 < nowMilli
}
