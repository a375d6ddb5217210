package v1

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/dokploy"
	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/token"
)

// fakePlatform backs the routers under test with an in-memory platform. It
// satisfies both session.Platform and FileManager.
type fakePlatform struct {
	mu          sync.Mutex
	projects    []dokploy.Project
	composes    map[string]*dokploy.Compose
	deployments map[string][]dokploy.Deployment
	domains     map[string][]dokploy.Domain
	files       map[string]map[string]string
	nextID      int

	deleted    []string
	redeployed []string
	writes     []dokploy.WriteFileInput
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		composes:    make(map[string]*dokploy.Compose),
		deployments: make(map[string][]dokploy.Deployment),
		domains:     make(map[string][]dokploy.Domain),
		files:       make(map[string]map[string]string),
	}
}

func (f *fakePlatform) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakePlatform) ListProjects(context.Context, string) ([]dokploy.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dokploy.Project, len(f.projects))
	copy(out, f.projects)
	return out, nil
}

func (f *fakePlatform) GetProject(_ context.Context, projectID, _ string) (*dokploy.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.projects {
		if f.projects[i].ProjectID == projectID {
			p := f.projects[i]
			for e := range p.Environments {
				composes := make([]dokploy.Compose, 0)
				for _, c := range f.composes {
					if c.EnvironmentID == p.Environments[e].EnvironmentID {
						composes = append(composes, *c)
					}
				}
				p.Environments[e].Composes = composes
			}
			return &p, nil
		}
	}
	return nil, rterrors.NewNotFound("project not found", nil)
}

func (f *fakePlatform) CreateProject(_ context.Context, input dokploy.CreateProjectInput, _ string) (*dokploy.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := dokploy.Project{
		ProjectID: f.id("proj"),
		Name:      input.Name,
		Environments: []dokploy.Environment{
			{EnvironmentID: f.id("env"), Name: "production", IsDefault: true},
		},
	}
	f.projects = append(f.projects, p)
	return &p, nil
}

func (f *fakePlatform) CreateCompose(_ context.Context, input dokploy.CreateComposeInput, _ string) (*dokploy.Compose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &dokploy.Compose{
		ComposeID:     f.id("compose"),
		Name:          input.Name,
		AppName:       input.AppName,
		EnvironmentID: input.EnvironmentID,
		Description:   input.Description,
		ServerID:      input.ServerID,
		ComposeStatus: "idle",
	}
	f.composes[c.ComposeID] = c
	f.files[c.ComposeID] = make(map[string]string)
	return c, nil
}

func (f *fakePlatform) GetCompose(_ context.Context, composeID, _ string) (*dokploy.Compose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.composes[composeID]
	if !ok {
		return nil, rterrors.NewNotFound("compose not found", nil)
	}
	cp := *c
	return &cp, nil
}

func (f *fakePlatform) UpdateCompose(_ context.Context, input dokploy.UpdateComposeInput, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	delete(f.composes, composeID)
	f.deleted = append(f.deleted, composeID)
	return nil
}

func (f *fakePlatform) DeployCompose(_ context.Context, composeID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[composeID] = append(f.deployments[composeID], dokploy.Deployment{
		Status:    "running",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

func (f *fakePlatform) RedeployCompose(_ context.Context, composeID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redeployed = append(f.redeployed, composeID)
	return nil
}

func (f *fakePlatform) ListDeployments(_ context.Context, composeID, _ string) ([]dokploy.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dokploy.Deployment(nil), f.deployments[composeID]...), nil
}

func (f *fakePlatform) ListDomains(_ context.Context, composeID, _ string) ([]dokploy.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dokploy.Domain(nil), f.domains[composeID]...), nil
}

func (f *fakePlatform) GenerateDomain(_ context.Context, appName, _, _ string) (string, error) {
	return appName + ".preview.example.com", nil
}

func (f *fakePlatform) CreateDomain(_ context.Context, input dokploy.CreateDomainInput, _ string) (*dokploy.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := dokploy.Domain{DomainID: f.id("domain"), Host: input.Host, ComposeID: input.ComposeID}
	f.domains[input.ComposeID] = append(f.domains[input.ComposeID], d)
	return &d, nil
}

func (f *fakePlatform) ListServers(context.Context, string) ([]dokploy.Server, error) {
	return nil, nil
}

func (f *fakePlatform) WriteFile(_ context.Context, input dokploy.WriteFileInput, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, input)
	if files, ok := f.files[input.ComposeID]; ok {
		files[input.Path] = input.Content
	}
	return nil
}

func (f *fakePlatform) ListFiles(_ context.Context, composeID, path, _ string) ([]dokploy.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, ok := f.files[composeID]
	if !ok {
		return nil, rterrors.NewNotFound("compose not found", nil)
	}
	var entries []dokploy.FileEntry
	for p := range files {
		full := "/" + p
		if path == "" || strings.HasPrefix(full, "/"+path) {
			entries = append(entries, dokploy.FileEntry{
				Name: baseName(p),
				Path: p,
				Type: "file",
				Size: int64(len(files[p])),
			})
		}
	}
	return entries, nil
}

func (f *fakePlatform) ReadFile(_ context.Context, composeID, path, _ string) (*dokploy.FileContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[composeID][path]
	if !ok {
		return nil, rterrors.NewNotFound("file not found", nil)
	}
	return &dokploy.FileContent{Path: path, Content: content, Encoding: "utf8", Size: int64(len(content))}, nil
}

func (f *fakePlatform) CreateDirectory(context.Context, string, string, string) error {
	return nil
}

func (f *fakePlatform) DeletePath(_ context.Context, composeID, path string, _ bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files[composeID], path)
	return nil
}

func (f *fakePlatform) SearchFiles(_ context.Context, composeID, query, _, _ string) ([]dokploy.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []dokploy.FileEntry
	for p := range f.files[composeID] {
		if strings.Contains(p, query) {
			entries = append(entries, dokploy.FileEntry{Name: baseName(p), Path: p, Type: "file"})
		}
	}
	return entries, nil
}

func remoteConfig() *config.Config {
	return &config.Config{
		Provider:           config.ProviderDokploy,
		DokployBaseURL:     "https://dokploy.example.com",
		DokployAPIKey:      "key",
		TokenSecret:        "test-secret",
		SessionIdleMinutes: 15,
		HeartbeatSeconds:   30,
	}
}

func webcontainerConfig() *config.Config {
	return &config.Config{
		Provider:           config.ProviderWebcontainer,
		SessionIdleMinutes: 15,
		HeartbeatSeconds:   30,
	}
}

// signToken mints a valid lease token for handler tests that skip create.
func signToken(cfg *config.Config, composeID string) string {
	signed, err := token.Sign(token.Claims{
		ActorID:       "actor-1",
		ChatID:        "chat-1",
		ProjectID:     "proj-1",
		EnvironmentID: "env-1",
		ComposeID:     composeID,
		Domain:        "app.preview.example.com",
	}, cfg.TokenSecret, time.Hour, time.Now())
	if err != nil {
		panic(err)
	}
	return signed
}
