package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/dokploy"
	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/metadata"
	"github.com/boltlabs/runtimed/pkg/rollout"
	"github.com/boltlabs/runtimed/pkg/telemetry"
	"github.com/boltlabs/runtimed/pkg/templates"
	"github.com/boltlabs/runtimed/pkg/token"
)

const (
	composeType        = "docker-compose"
	composeSourceType  = "raw"
	composePath        = "docker-compose.yml"
	previewPort        = 4173
	previewServiceName = "app"
)

// Orchestrator drives the session lifecycle against the platform.
//
// Create calls for the same (actor, chat) are single-flighted: concurrent
// callers share one platform-side effect and receive the same token. All
// other operations are stateless and resolve the target compose from the
// verified token, never from client-supplied identifiers.
type Orchestrator struct {
	platform Platform
	cfg      *config.Config
	sweeper  ActorSweeper
	now      func() time.Time

	// creates ensures only one create runs per (actor, chat) at a time.
	creates singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator. sweeper may be nil to disable pre-create and
// heartbeat-triggered sweeps.
func New(platform Platform, cfg *config.Config, sweeper ActorSweeper, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		platform: platform,
		cfg:      cfg,
		sweeper:  sweeper,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// candidate is one broker-owned compose evaluated during reuse search.
type candidate struct {
	compose          *dokploy.Compose
	meta             *metadata.Metadata
	deploymentStatus DeploymentStatus
	status           Status
}

// Create provisions or reuses the session for (actor, chat) and returns a
// signed lease token.
func (o *Orchestrator) Create(ctx context.Context, actorID, chatID, templateID, requestID string) (*CreateResult, error) {
	if actorID == "" || chatID == "" {
		return nil, rterrors.NewBadRequest("actor and chat are required", nil)
	}

	key := actorID + "\x00" + chatID
	v, err, _ := o.creates.Do(key, func() (any, error) {
		return o.create(ctx, actorID, chatID, templateID, requestID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CreateResult), nil
}

func (o *Orchestrator) create(ctx context.Context, actorID, chatID, templateID, requestID string) (*CreateResult, error) {
	o.sweepActor(ctx, actorID, requestID)

	project, err := o.ensureProject(ctx, actorID, requestID)
	if err != nil {
		return nil, err
	}

	env, err := resolveEnvironment(project)
	if err != nil {
		return nil, err
	}

	sel := rollout.Select(actorID, chatID, o.cfg.CanaryRolloutPercent)

	winner, stale := o.findReusable(ctx, project, actorID, chatID, requestID)
	if winner != nil {
		result, err := o.reuseSession(ctx, project, env, winner, sel, requestID)
		if err != nil {
			return nil, err
		}
		o.deleteStale(ctx, stale, requestID)
		return result, nil
	}
	o.deleteStale(ctx, stale, requestID)

	return o.createSession(ctx, project, env, actorID, chatID, templateID, sel, requestID)
}

// ensureProject finds or creates the actor's project and returns it with the
// full environment and compose lists.
func (o *Orchestrator) ensureProject(ctx context.Context, actorID, requestID string) (*dokploy.Project, error) {
	name := ProjectName(actorID)

	projects, err := o.platform.ListProjects(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var projectID string
	for _, p := range projects {
		if p.Name == name {
			projectID = p.ProjectID
			break
		}
	}

	if projectID == "" {
		created, err := o.platform.CreateProject(ctx, dokploy.CreateProjectInput{
			Name:        name,
			Description: "bolt runtime sessions",
		}, requestID)
		if err != nil {
			return nil, err
		}
		projectID = created.ProjectID
	}

	return o.platform.GetProject(ctx, projectID, requestID)
}

// resolveEnvironment picks the environment new composes deploy into: the
// default one, else "production", else the first listed.
func resolveEnvironment(project *dokploy.Project) (*dokploy.Environment, error) {
	for i := range project.Environments {
		if project.Environments[i].IsDefault {
			return &project.Environments[i], nil
		}
	}
	for i := range project.Environments {
		if project.Environments[i].Name == "production" {
			return &project.Environments[i], nil
		}
	}
	if len(project.Environments) > 0 {
		return &project.Environments[0], nil
	}
	return nil, rterrors.NewNoEnvironment(project.ProjectID)
}

// findReusable scans the project for composes owned by (actor, chat). The
// reusable candidate with the greatest lastSeenAt wins; every other owned
// compose lands on the stale list. Per-candidate failures demote the
// candidate to stale and the scan continues.
func (o *Orchestrator) findReusable(ctx context.Context, project *dokploy.Project, actorID, chatID, requestID string) (*candidate, []string) {
	var winner *candidate
	var stale []string

	for _, env := range project.Environments {
		for i := range env.Composes {
			c := env.Composes[i]
			meta := metadata.Parse(c.Description)
			if meta == nil || meta.ActorID != actorID || meta.ChatID != chatID {
				continue
			}

			cand, err := o.evaluate(ctx, c.ComposeID, meta, requestID)
			if err != nil {
				logger.Warnw("failed to evaluate reuse candidate",
					"composeId", c.ComposeID, "error", err.Error())
				stale = append(stale, c.ComposeID)
				continue
			}
			if !reusable(cand.status) {
				stale = append(stale, c.ComposeID)
				continue
			}

			if winner == nil {
				winner = cand
				continue
			}
			if cand.meta.LastSeenAt > winner.meta.LastSeenAt {
				stale = append(stale, winner.compose.ComposeID)
				winner = cand
			} else {
				stale = append(stale, cand.compose.ComposeID)
			}
		}
	}

	return winner, stale
}

func (o *Orchestrator) evaluate(ctx context.Context, composeID string, meta *metadata.Metadata, requestID string) (*candidate, error) {
	compose, err := o.platform.GetCompose(ctx, composeID, requestID)
	if err != nil {
		return nil, err
	}
	deployments, err := o.platform.ListDeployments(ctx, composeID, requestID)
	if err != nil {
		return nil, err
	}

	deploymentStatus := DeriveDeploymentStatus(deployments)
	return &candidate{
		compose:          compose,
		meta:             meta,
		deploymentStatus: deploymentStatus,
		status:           DeriveSessionStatus(deploymentStatus, compose.ComposeStatus),
	}, nil
}

// reuseSession adopts an existing compose: rewrites its metadata with a fresh
// lease, ensures a preview domain, kicks a deploy when the compose is stuck
// or failed, and issues a token.
func (o *Orchestrator) reuseSession(ctx context.Context, project *dokploy.Project, env *dokploy.Environment, cand *candidate, sel rollout.Selection, requestID string) (*CreateResult, error) {
	now := o.now()
	cohort := o.resolveCohort(cand.meta, cand.compose, sel)

	next := metadata.Metadata{
		ActorID:       cand.meta.ActorID,
		ChatID:        cand.meta.ChatID,
		CreatedAt:     cand.meta.CreatedAt,
		LastSeenAt:    now.UnixMilli(),
		IdleTTLSec:    o.cfg.IdleTTLSeconds(),
		RolloutCohort: cohort,
	}
	if next.CreatedAt == 0 {
		next.CreatedAt = now.UnixMilli()
	}

	if err := o.platform.UpdateCompose(ctx, dokploy.UpdateComposeInput{
		ComposeID:   cand.compose.ComposeID,
		Description: dokploy.String(metadata.Format(next)),
	}, requestID); err != nil {
		return nil, err
	}

	host, https, err := o.ensureDomain(ctx, cand.compose, requestID)
	if err != nil {
		return nil, err
	}

	deploymentStatus := cand.deploymentStatus
	status := cand.status
	if deploymentStatus == DeploymentQueued || deploymentStatus == DeploymentError {
		if err := o.platform.DeployCompose(ctx, cand.compose.ComposeID, requestID); err != nil {
			return nil, err
		}
		deploymentStatus = DeploymentQueued
		status = StatusDeploying
	}

	environmentID := cand.compose.EnvironmentID
	if environmentID == "" {
		environmentID = env.EnvironmentID
	}

	signed, expiresAt, err := o.issueToken(cand.meta.ActorID, cand.meta.ChatID, project.ProjectID, environmentID, cand.compose.ComposeID, host)
	if err != nil {
		return nil, err
	}

	telemetry.SessionsReused.Inc()
	logger.Infow("reused runtime session",
		"composeId", cand.compose.ComposeID, "actorId", cand.meta.ActorID,
		"chatId", cand.meta.ChatID, "status", status)

	return &CreateResult{
		Token: signed,
		Session: &Session{
			ProjectID:     project.ProjectID,
			EnvironmentID: environmentID,
			ComposeID:     cand.compose.ComposeID,
			Domain:        host,
			PreviewURL:    previewURL(host, https),
			Status:        status,
			ExpiresAt:     expiresAt,
			ServerID:      cand.compose.ServerID,
			RolloutCohort: cohort,
		},
		DeploymentStatus: deploymentStatus,
	}, nil
}

// createSession provisions a brand-new compose for (actor, chat), seeds it
// with the project template, and issues a token.
func (o *Orchestrator) createSession(ctx context.Context, project *dokploy.Project, env *dokploy.Environment, actorID, chatID, templateID string, sel rollout.Selection, requestID string) (*CreateResult, error) {
	serverID, err := o.resolveServer(ctx, sel.Cohort, requestID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	name := ComposeName(actorID, chatID)
	tmpl := templates.Lookup(templateID)

	meta := metadata.Metadata{
		ActorID:       actorID,
		ChatID:        chatID,
		CreatedAt:     now.UnixMilli(),
		LastSeenAt:    now.UnixMilli(),
		IdleTTLSec:    o.cfg.IdleTTLSeconds(),
		RolloutCohort: sel.Cohort,
	}
	description := metadata.Format(meta)

	compose, err := o.platform.CreateCompose(ctx, dokploy.CreateComposeInput{
		Name:          name,
		AppName:       name,
		EnvironmentID: env.EnvironmentID,
		ComposeType:   composeType,
		ComposeFile:   tmpl.ComposeFile,
		Description:   description,
		ServerID:      serverID,
	}, requestID)
	if err != nil {
		if rterrors.Is(err, rterrors.CodeConflict) {
			return o.recoverConflict(ctx, project.ProjectID, env, actorID, chatID, sel, requestID, err)
		}
		return nil, err
	}

	if err := o.platform.UpdateCompose(ctx, dokploy.UpdateComposeInput{
		ComposeID:   compose.ComposeID,
		SourceType:  dokploy.String(composeSourceType),
		ComposePath: dokploy.String(composePath),
		Description: dokploy.String(description),
	}, requestID); err != nil {
		return nil, err
	}

	for _, file := range tmpl.SortedFiles() {
		if err := o.platform.WriteFile(ctx, dokploy.WriteFileInput{
			ComposeID: compose.ComposeID,
			Path:      file.Path,
			Content:   file.Content,
			Encoding:  "utf8",
			Overwrite: true,
		}, requestID); err != nil {
			return nil, err
		}
	}

	host, https, err := o.ensureDomain(ctx, compose, requestID)
	if err != nil {
		return nil, err
	}

	deployments, err := o.platform.ListDeployments(ctx, compose.ComposeID, requestID)
	if err != nil {
		return nil, err
	}
	if s := DeriveDeploymentStatus(deployments); s == DeploymentQueued || s == DeploymentError {
		if err := o.platform.DeployCompose(ctx, compose.ComposeID, requestID); err != nil {
			return nil, err
		}
	}

	signed, expiresAt, err := o.issueToken(actorID, chatID, project.ProjectID, env.EnvironmentID, compose.ComposeID, host)
	if err != nil {
		return nil, err
	}

	telemetry.SessionsCreated.Inc()
	logger.Infow("created runtime session",
		"composeId", compose.ComposeID, "actorId", actorID, "chatId", chatID,
		"cohort", sel.Cohort, "serverId", serverID)

	return &CreateResult{
		Token: signed,
		Session: &Session{
			ProjectID:     project.ProjectID,
			EnvironmentID: env.EnvironmentID,
			ComposeID:     compose.ComposeID,
			Domain:        host,
			PreviewURL:    previewURL(host, https),
			Status:        StatusCreating,
			ExpiresAt:     expiresAt,
			ServerID:      serverID,
			RolloutCohort: sel.Cohort,
		},
		DeploymentStatus: DeploymentQueued,
	}, nil
}

// recoverConflict handles a CONFLICT from compose.create: another writer got
// there first, so re-scan the project once and adopt the winner.
func (o *Orchestrator) recoverConflict(ctx context.Context, projectID string, env *dokploy.Environment, actorID, chatID string, sel rollout.Selection, requestID string, cause error) (*CreateResult, error) {
	logger.Warnw("compose create conflicted, re-scanning project",
		"projectId", projectID, "actorId", actorID, "chatId", chatID)

	project, err := o.platform.GetProject(ctx, projectID, requestID)
	if err != nil {
		return nil, cause
	}
	winner, stale := o.findReusable(ctx, project, actorID, chatID, requestID)
	if winner == nil {
		return nil, cause
	}
	result, err := o.reuseSession(ctx, project, env, winner, sel, requestID)
	if err != nil {
		return nil, err
	}
	o.deleteStale(ctx, stale, requestID)
	return result, nil
}

// resolveServer picks the deploy server for a new compose. The canary cohort
// requires the configured canary server; stable falls back from the
// configured server to the first SSH-enabled one to the platform default.
func (o *Orchestrator) resolveServer(ctx context.Context, cohort metadata.Cohort, requestID string) (string, error) {
	if cohort == metadata.CohortCanary {
		if o.cfg.DokployCanaryServerID == "" {
			return "", rterrors.NewNoCanaryDeployServer()
		}
		return o.cfg.DokployCanaryServerID, nil
	}

	if o.cfg.DokployServerID != "" {
		return o.cfg.DokployServerID, nil
	}

	servers, err := o.platform.ListServers(ctx, requestID)
	if err != nil {
		logger.Warnw("failed to list deploy servers, using platform default", "error", err.Error())
		return "", nil
	}
	if len(servers) > 0 {
		return servers[0].ServerID, nil
	}
	return "", nil
}

// resolveCohort keeps a previously assigned cohort, infers canary from the
// compose's server pinning, and otherwise uses the current rollout selection.
func (o *Orchestrator) resolveCohort(meta *metadata.Metadata, compose *dokploy.Compose, sel rollout.Selection) metadata.Cohort {
	if meta != nil && meta.RolloutCohort != "" {
		return meta.RolloutCohort
	}
	if compose != nil && compose.ServerID != "" && compose.ServerID == o.cfg.DokployCanaryServerID {
		return metadata.CohortCanary
	}
	return sel.Cohort
}

// ensureDomain guarantees the compose has a routed preview domain and returns
// its host.
func (o *Orchestrator) ensureDomain(ctx context.Context, compose *dokploy.Compose, requestID string) (string, bool, error) {
	domains, err := o.platform.ListDomains(ctx, compose.ComposeID, requestID)
	if err != nil {
		return "", false, rterrors.NewDomainUnavailable(compose.ComposeID, err)
	}
	if len(domains) > 0 {
		return domains[0].Host, domains[0].HTTPS, nil
	}

	appName := compose.AppName
	if appName == "" {
		appName = compose.Name
	}
	host, err := o.platform.GenerateDomain(ctx, appName, compose.ServerID, requestID)
	if err != nil || host == "" {
		return "", false, rterrors.NewDomainUnavailable(compose.ComposeID, err)
	}

	if _, err := o.platform.CreateDomain(ctx, dokploy.CreateDomainInput{
		Host:            host,
		Path:            "/",
		Port:            previewPort,
		HTTPS:           false,
		CertificateType: "none",
		ComposeID:       compose.ComposeID,
		ServiceName:     previewServiceName,
	}, requestID); err != nil {
		return "", false, rterrors.NewDomainUnavailable(compose.ComposeID, err)
	}

	return host, false, nil
}

// Get resolves the session behind a token.
func (o *Orchestrator) Get(ctx context.Context, tokenString, requestID string) (*GetResult, error) {
	claims, err := token.Verify(tokenString, o.cfg.TokenSecret)
	if err != nil {
		return nil, err
	}

	compose, err := o.platform.GetCompose(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}
	deployments, err := o.platform.ListDeployments(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}
	domains, err := o.platform.ListDomains(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}

	meta := metadata.Parse(compose.Description)
	if meta == nil {
		meta = o.synthesizeMetadata(claims)
	}

	host := claims.Domain
	https := false
	if len(domains) > 0 {
		host = domains[0].Host
		https = domains[0].HTTPS
	}

	deploymentStatus := DeriveDeploymentStatus(deployments)
	status := DeriveSessionStatus(deploymentStatus, compose.ComposeStatus)
	expiresAt := time.UnixMilli(meta.LastSeenAt).Add(time.Duration(meta.IdleTTLSec) * time.Second)

	return &GetResult{
		Claims: claims,
		Session: &Session{
			ProjectID:     claims.ProjectID,
			EnvironmentID: claims.EnvironmentID,
			ComposeID:     claims.ComposeID,
			Domain:        host,
			PreviewURL:    previewURL(host, https),
			Status:        status,
			ExpiresAt:     expiresAt,
			ServerID:      compose.ServerID,
			RolloutCohort: meta.RolloutCohort,
		},
		DeploymentStatus: deploymentStatus,
	}, nil
}

// Heartbeat extends the session lease: it advances lastSeenAt in the compose
// metadata and reissues a token with a fresh sliding expiry.
func (o *Orchestrator) Heartbeat(ctx context.Context, tokenString, requestID string) (*HeartbeatResult, error) {
	result, err := o.Get(ctx, tokenString, requestID)
	if err != nil {
		return nil, err
	}
	claims := result.Claims

	compose, err := o.platform.GetCompose(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	meta := metadata.Parse(compose.Description)
	if meta == nil {
		meta = o.synthesizeMetadata(claims)
	}

	sel := rollout.Select(claims.ActorID, claims.ChatID, o.cfg.CanaryRolloutPercent)
	next := metadata.Metadata{
		ActorID:       claims.ActorID,
		ChatID:        claims.ChatID,
		CreatedAt:     meta.CreatedAt,
		LastSeenAt:    now.UnixMilli(),
		IdleTTLSec:    o.cfg.IdleTTLSeconds(),
		RolloutCohort: o.resolveCohort(meta, compose, sel),
	}
	if next.CreatedAt == 0 {
		next.CreatedAt = now.UnixMilli()
	}

	if err := o.platform.UpdateCompose(ctx, dokploy.UpdateComposeInput{
		ComposeID:   claims.ComposeID,
		Description: dokploy.String(metadata.Format(next)),
	}, requestID); err != nil {
		return nil, err
	}

	o.sweepActor(ctx, claims.ActorID, requestID)

	signed, expiresAt, err := o.issueToken(claims.ActorID, claims.ChatID, claims.ProjectID, claims.EnvironmentID, claims.ComposeID, result.Session.Domain)
	if err != nil {
		return nil, err
	}

	return &HeartbeatResult{
		Status:    result.Session.Status,
		ExpiresAt: expiresAt,
		Token:     signed,
	}, nil
}

// Delete tears the session down, removing the compose and its volumes.
func (o *Orchestrator) Delete(ctx context.Context, tokenString, requestID string) error {
	claims, err := token.Verify(tokenString, o.cfg.TokenSecret)
	if err != nil {
		return err
	}
	if err := o.platform.DeleteCompose(ctx, claims.ComposeID, true, requestID); err != nil {
		return err
	}
	logger.Infow("deleted runtime session",
		"composeId", claims.ComposeID, "actorId", claims.ActorID, "chatId", claims.ChatID)
	return nil
}

// WithClaims verifies a token and returns its claims. File operations use it
// to resolve the authoritative compose id.
func (o *Orchestrator) WithClaims(tokenString string) (*token.Claims, error) {
	return token.Verify(tokenString, o.cfg.TokenSecret)
}

func (o *Orchestrator) issueToken(actorID, chatID, projectID, environmentID, composeID, domain string) (string, time.Time, error) {
	now := o.now()
	ttl := time.Duration(o.cfg.IdleTTLSeconds()) * time.Second
	signed, err := token.Sign(token.Claims{
		ActorID:       actorID,
		ChatID:        chatID,
		ProjectID:     projectID,
		EnvironmentID: environmentID,
		ComposeID:     composeID,
		Domain:        domain,
	}, o.cfg.TokenSecret, ttl, now)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, now.Add(ttl), nil
}

// synthesizeMetadata reconstructs a lease from token claims when the compose
// description has been lost or rewritten by someone else.
func (o *Orchestrator) synthesizeMetadata(claims *token.Claims) *metadata.Metadata {
	issuedAt := o.now()
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	return &metadata.Metadata{
		ActorID:    claims.ActorID,
		ChatID:     claims.ChatID,
		CreatedAt:  issuedAt.UnixMilli(),
		LastSeenAt: issuedAt.UnixMilli(),
		IdleTTLSec: o.cfg.IdleTTLSeconds(),
	}
}

// sweepActor runs the idle sweeper best-effort; failures are logged, never fatal.
func (o *Orchestrator) sweepActor(ctx context.Context, actorID, requestID string) {
	if o.sweeper == nil {
		return
	}
	if err := o.sweeper.Run(ctx, actorID, requestID); err != nil {
		logger.Warnw("idle sweep failed", "actorId", actorID, "error", err.Error())
	}
}

// deleteStale removes superseded composes best-effort.
func (o *Orchestrator) deleteStale(ctx context.Context, composeIDs []string, requestID string) {
	for _, id := range composeIDs {
		if err := o.platform.DeleteCompose(ctx, id, true, requestID); err != nil {
			logger.Warnw("failed to delete stale compose", "composeId", id, "error", err.Error())
		}
	}
}

func previewURL(host string, https bool) string {
	if host == "" {
		return ""
	}
	scheme := "http"
	if https {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}
