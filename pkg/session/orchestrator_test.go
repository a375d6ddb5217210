package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/dokploy"
	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/metadata"
	"github.com/boltlabs/runtimed/pkg/token"
)

// fakePlatform is an in-memory platform with a single project.
type fakePlatform struct {
	mu           sync.Mutex
	project      *dokploy.Project
	environment  dokploy.Environment
	composes     map[string]*dokploy.Compose
	deployments  map[string][]dokploy.Deployment
	domains      map[string][]dokploy.Domain
	servers      []dokploy.Server
	writes       []dokploy.WriteFileInput
	calls        map[string]int
	conflictNext bool
	conflictSeed *dokploy.Compose
	nextID       int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		composes:    make(map[string]*dokploy.Compose),
		deployments: make(map[string][]dokploy.Deployment),
		domains:     make(map[string][]dokploy.Domain),
		calls:       make(map[string]int),
	}
}

func (f *fakePlatform) count(op string) {
	f.calls[op]++
}

func (f *fakePlatform) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakePlatform) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// seedCompose installs a broker-owned compose into the fake's project.
func (f *fakePlatform) seedCompose(actorID, chatID string, lastSeenAt int64, deployStatus string) *dokploy.Compose {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.project == nil {
		f.createProjectLocked(ProjectName(actorID))
	}
	compose := &dokploy.Compose{
		ComposeID:     f.id("compose"),
		Name:          ComposeName(actorID, chatID),
		AppName:       ComposeName(actorID, chatID),
		EnvironmentID: f.environment.EnvironmentID,
		Description: metadata.Format(metadata.Metadata{
			ActorID:    actorID,
			ChatID:     chatID,
			CreatedAt:  lastSeenAt,
			LastSeenAt: lastSeenAt,
			IdleTTLSec: 900,
		}),
	}
	f.composes[compose.ComposeID] = compose
	if deployStatus != "" {
		f.deployments[compose.ComposeID] = []dokploy.Deployment{
			{DeploymentID: f.id("deploy"), Status: deployStatus, CreatedAt: "2026-08-01T10:00:00Z"},
		}
	}
	return compose
}

func (f *fakePlatform) createProjectLocked(name string) {
	f.environment = dokploy.Environment{
		EnvironmentID: f.id("env"),
		Name:          "production",
		IsDefault:     true,
	}
	f.project = &dokploy.Project{ProjectID: f.id("project"), Name: name}
}

func (f *fakePlatform) ListProjects(_ context.Context, _ string) ([]dokploy.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("project.all")
	if f.project == nil {
		return nil, nil
	}
	return []dokploy.Project{{ProjectID: f.project.ProjectID, Name: f.project.Name}}, nil
}

func (f *fakePlatform) GetProject(_ context.Context, projectID, _ string) (*dokploy.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("project.one")
	if f.project == nil || f.project.ProjectID != projectID {
		return nil, rterrors.NewNotFound("project not found", nil)
	}
	env := f.environment
	env.Composes = nil
	for _, c := range f.composes {
		env.Composes = append(env.Composes, *c)
	}
	return &dokploy.Project{
		ProjectID:    f.project.ProjectID,
		Name:         f.project.Name,
		Environments: []dokploy.Environment{env},
	}, nil
}

func (f *fakePlatform) CreateProject(_ context.Context, input dokploy.CreateProjectInput, _ string) (*dokploy.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("project.create")
	f.createProjectLocked(input.Name)
	return &dokploy.Project{ProjectID: f.project.ProjectID, Name: f.project.Name}, nil
}

func (f *fakePlatform) CreateCompose(_ context.Context, input dokploy.CreateComposeInput, _ string) (*dokploy.Compose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("compose.create")
	if f.conflictNext {
		f.conflictNext = false
		if f.conflictSeed != nil {
			// Simulate the racing writer whose compose caused the conflict.
			f.composes[f.conflictSeed.ComposeID] = f.conflictSeed
			f.conflictSeed = nil
		}
		return nil, rterrors.NewConflict("compose name already taken", nil)
	}
	compose := &dokploy.Compose{
		ComposeID:     f.id("compose"),
		Name:          input.Name,
		AppName:       input.AppName,
		EnvironmentID: input.EnvironmentID,
		Description:   input.Description,
		ServerID:      input.ServerID,
	}
	f.composes[compose.ComposeID] = compose
	out := *compose
	return &out, nil
}

func (f *fakePlatform) GetCompose(_ context.Context, composeID, _ string) (*dokploy.Compose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("compose.one")
	c, ok := f.composes[composeID]
	if !ok {
		return nil, rterrors.NewNotFound("compose not found", nil)
	}
	out := *c
	return &out, nil
}

func (f *fakePlatform) UpdateCompose(_ context.Context, input dokploy.UpdateComposeInput, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("compose.update")
	c, ok := f.composes[input.ComposeID]
	if !ok {
		return rterrors.NewNotFound("compose not found", nil)
	}
	if input.Description != nil {
		c.Description = *input.Description
	}
	return nil
}

func (f *fakePlatform) DeleteCompose(_ context.Context, composeID string, _ bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("compose.delete")
	delete(f.composes, composeID)
	return nil
}

func (f *fakePlatform) DeployCompose(_ context.Context, composeID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("compose.deploy")
	if _, ok := f.composes[composeID]; !ok {
		return rterrors.NewNotFound("compose not found", nil)
	}
	return nil
}

func (f *fakePlatform) RedeployCompose(_ context.Context, composeID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("compose.redeploy")
	if _, ok := f.composes[composeID]; !ok {
		return rterrors.NewNotFound("compose not found", nil)
	}
	return nil
}

func (f *fakePlatform) ListDeployments(_ context.Context, composeID, _ string) ([]dokploy.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("deployment.allByCompose")
	return f.deployments[composeID], nil
}

func (f *fakePlatform) ListDomains(_ context.Context, composeID, _ string) ([]dokploy.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("domain.byComposeId")
	return f.domains[composeID], nil
}

func (f *fakePlatform) GenerateDomain(_ context.Context, appName, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("domain.generateDomain")
	return appName + ".preview.example.com", nil
}

func (f *fakePlatform) CreateDomain(_ context.Context, input dokploy.CreateDomainInput, _ string) (*dokploy.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("domain.create")
	domain := dokploy.Domain{
		DomainID:        f.id("domain"),
		Host:            input.Host,
		Path:            input.Path,
		Port:            input.Port,
		HTTPS:           input.HTTPS,
		CertificateType: input.CertificateType,
		ServiceName:     input.ServiceName,
		ComposeID:       input.ComposeID,
	}
	f.domains[input.ComposeID] = append(f.domains[input.ComposeID], domain)
	return &domain, nil
}

func (f *fakePlatform) ListServers(_ context.Context, _ string) ([]dokploy.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("server.withSSHKey")
	return f.servers, nil
}

func (f *fakePlatform) WriteFile(_ context.Context, input dokploy.WriteFileInput, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("file.write")
	f.writes = append(f.writes, input)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Provider:           config.ProviderDokploy,
		DokployBaseURL:     "https://dokploy.example.com",
		DokployAPIKey:      "key",
		TokenSecret:        "secret",
		SessionIdleMinutes: 15,
		HeartbeatSeconds:   30,
	}
}

func newTestOrchestrator(platform Platform, cfg *config.Config, now time.Time) *Orchestrator {
	return New(platform, cfg, nil, WithClock(func() time.Time { return now }))
}

func TestCreateProvisionsNewSession(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	now := time.Now()
	orch := newTestOrchestrator(platform, testConfig(), now)

	result, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)

	assert.Equal(t, 1, platform.callCount("project.create"))
	assert.Equal(t, 1, platform.callCount("compose.create"))
	assert.Equal(t, 1, platform.callCount("domain.create"))
	assert.Equal(t, 1, platform.callCount("compose.deploy"),
		"fresh compose with no deployments gets deployed")
	assert.NotEmpty(t, platform.writes, "template files seeded")

	require.NotNil(t, result.Session)
	assert.Equal(t, StatusCreating, result.Session.Status)
	assert.Equal(t, DeploymentQueued, result.DeploymentStatus)
	assert.Equal(t, now.Add(15*time.Minute), result.Session.ExpiresAt)
	assert.Contains(t, result.Session.PreviewURL, "http://")
	assert.Contains(t, result.Session.PreviewURL, ".preview.example.com")

	claims, err := token.Verify(result.Token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "actor-1", claims.ActorID)
	assert.Equal(t, "chat-1", claims.ChatID)
	assert.Equal(t, result.Session.ComposeID, claims.ComposeID)

	compose, err := platform.GetCompose(context.Background(), result.Session.ComposeID, "req-1")
	require.NoError(t, err)
	meta := metadata.Parse(compose.Description)
	require.NotNil(t, meta)
	assert.Equal(t, "actor-1", meta.ActorID)
	assert.Equal(t, now.UnixMilli(), meta.LastSeenAt)
	assert.Equal(t, 900, meta.IdleTTLSec)
}

func TestCreateReusesExistingSession(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	now := time.Now()
	existing := platform.seedCompose("actor-1", "chat-1", now.Add(-time.Minute).UnixMilli(), "done")

	orch := newTestOrchestrator(platform, testConfig(), now)
	result, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)

	assert.Equal(t, 0, platform.callCount("compose.create"),
		"reusable compose must never trigger compose.create")
	assert.Equal(t, 0, platform.callCount("compose.delete"),
		"the reused compose must not be deleted")
	assert.Equal(t, 0, platform.callCount("compose.deploy"),
		"a completed deployment is not re-kicked")
	assert.Equal(t, existing.ComposeID, result.Session.ComposeID)
	assert.Equal(t, StatusReady, result.Session.Status)
	assert.Equal(t, DeploymentDone, result.DeploymentStatus)
}

func TestCreateReuseKicksStuckDeploy(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	now := time.Now()
	existing := platform.seedCompose("actor-1", "chat-1", now.UnixMilli(), "error")

	orch := newTestOrchestrator(platform, testConfig(), now)
	result, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)

	assert.Equal(t, existing.ComposeID, result.Session.ComposeID)
	assert.Equal(t, 1, platform.callCount("compose.deploy"))
	assert.Equal(t, StatusDeploying, result.Session.Status)
	assert.Equal(t, DeploymentQueued, result.DeploymentStatus)
}

func TestCreatePrefersFresherCandidateAndDeletesStale(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	now := time.Now()
	older := platform.seedCompose("actor-1", "chat-1", now.Add(-time.Hour).UnixMilli(), "done")
	newer := platform.seedCompose("actor-1", "chat-1", now.Add(-time.Minute).UnixMilli(), "done")

	orch := newTestOrchestrator(platform, testConfig(), now)
	result, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)

	assert.Equal(t, newer.ComposeID, result.Session.ComposeID)
	assert.Equal(t, 1, platform.callCount("compose.delete"))

	platform.mu.Lock()
	_, stillThere := platform.composes[older.ComposeID]
	platform.mu.Unlock()
	assert.False(t, stillThere, "the superseded compose is deleted")
}

func TestCreateCanaryWithoutServerFails(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	cfg := testConfig()
	cfg.CanaryRolloutPercent = 100

	orch := newTestOrchestrator(platform, cfg, time.Now())
	_, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.CodeNoCanaryDeployServer))
	assert.Equal(t, 503, rterrors.StatusOf(err))
}

func TestCreateCanaryPinsConfiguredServer(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	cfg := testConfig()
	cfg.CanaryRolloutPercent = 100
	cfg.DokployCanaryServerID = "srv-canary"

	orch := newTestOrchestrator(platform, cfg, time.Now())
	result, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-canary", result.Session.ServerID)
	assert.Equal(t, metadata.CohortCanary, result.Session.RolloutCohort)
}

func TestCreateSingleFlight(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	orch := newTestOrchestrator(platform, testConfig(), time.Now())

	const callers = 8
	results := make([]*CreateResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Token, results[i].Token,
			"concurrent creates share one result")
	}
	assert.Equal(t, 1, platform.callCount("compose.create"))
}

func TestCreateRecoversFromConflict(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	now := time.Now()
	// A racing writer's compose appears between our scan and our create: the
	// initial scan finds nothing, compose.create conflicts, and the re-scan
	// must adopt the winner instead of surfacing the 409.
	winner := platform.seedCompose("actor-1", "chat-1", now.UnixMilli(), "done")
	platform.mu.Lock()
	platform.conflictNext = true
	platform.conflictSeed = winner
	delete(platform.composes, winner.ComposeID)
	platform.mu.Unlock()

	orch := newTestOrchestrator(platform, testConfig(), now)
	result, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)
	assert.Equal(t, winner.ComposeID, result.Session.ComposeID)
	assert.Equal(t, 1, platform.callCount("compose.create"))
}

func TestGetReturnsDerivedState(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	now := time.Now()
	orch := newTestOrchestrator(platform, testConfig(), now)

	created, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)

	got, err := orch.Get(context.Background(), created.Token, "req-2")
	require.NoError(t, err)
	assert.Equal(t, created.Session.ComposeID, got.Session.ComposeID)
	assert.Equal(t, created.Session.PreviewURL, got.Session.PreviewURL)
	assert.Equal(t, now.Add(15*time.Minute).UnixMilli(), got.Session.ExpiresAt.UnixMilli(),
		"expiry derives from metadata lastSeenAt plus idle ttl")
}

func TestHeartbeatSlidesExpiry(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	start := time.Now()
	current := start
	cfg := testConfig()
	orch := New(platform, cfg, nil, WithClock(func() time.Time { return current }))

	created, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)

	tok := created.Token
	for i := 1; i <= 3; i++ {
		current = start.Add(time.Duration(i) * 5 * time.Minute)
		hb, err := orch.Heartbeat(context.Background(), tok, "req-2")
		require.NoError(t, err)
		assert.Equal(t, current.Add(15*time.Minute), hb.ExpiresAt,
			"expiry slides from the heartbeat time")
		require.NotEmpty(t, hb.Token)
		tok = hb.Token

		compose, err := platform.GetCompose(context.Background(), created.Session.ComposeID, "req-2")
		require.NoError(t, err)
		meta := metadata.Parse(compose.Description)
		require.NotNil(t, meta)
		assert.Equal(t, current.UnixMilli(), meta.LastSeenAt)
	}
}

func TestDeleteRemovesCompose(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	orch := newTestOrchestrator(platform, testConfig(), time.Now())

	created, err := orch.Create(context.Background(), "actor-1", "chat-1", "", "req-1")
	require.NoError(t, err)

	require.NoError(t, orch.Delete(context.Background(), created.Token, "req-2"))

	platform.mu.Lock()
	_, exists := platform.composes[created.Session.ComposeID]
	platform.mu.Unlock()
	assert.False(t, exists)
}

func TestCreateRejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(newFakePlatform(), testConfig(), time.Now())

	_, err := orch.Create(context.Background(), "", "chat-1", "", "req-1")
	require.Error(t, err)
	_, err = orch.Create(context.Background(), "actor-1", "", "", "req-1")
	require.Error(t, err)
}

func TestOperationsRejectInvalidToken(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(newFakePlatform(), testConfig(), time.Now())

	_, err := orch.Get(context.Background(), "not-a-token", "req-1")
	assert.Equal(t, 401, rterrors.StatusOf(err))

	_, err = orch.Heartbeat(context.Background(), "not-a-token", "req-1")
	assert.Equal(t, 401, rterrors.StatusOf(err))

	err = orch.Delete(context.Background(), "not-a-token", "req-1")
	assert.Equal(t, 401, rterrors.StatusOf(err))
}
