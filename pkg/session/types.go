// Package session orchestrates the lifecycle of remote runtime sessions:
// create-or-reuse of compose deployments per (actor, chat), lease issuance
// and renewal, and cascade teardown.
package session

import (
	"context"
	"time"

	"github.com/boltlabs/runtimed/pkg/dokploy"
	"github.com/boltlabs/runtimed/pkg/metadata"
	"github.com/boltlabs/runtimed/pkg/token"
)

// Status is the derived lifecycle status of a session.
type Status string

// Session lifecycle statuses.
const (
	StatusCreating  Status = "creating"
	StatusDeploying Status = "deploying"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
	StatusDeleted   Status = "deleted"
)

// DeploymentStatus is the derived status of a compose's deployments.
type DeploymentStatus string

// Deployment statuses.
const (
	DeploymentQueued  DeploymentStatus = "queued"
	DeploymentRunning DeploymentStatus = "running"
	DeploymentDone    DeploymentStatus = "done"
	DeploymentError   DeploymentStatus = "error"
)

// Session is the logical lease over a compose for one (actor, chat).
type Session struct {
	ProjectID     string          `json:"projectId"`
	EnvironmentID string          `json:"environmentId"`
	ComposeID     string          `json:"composeId"`
	Domain        string          `json:"domain,omitempty"`
	PreviewURL    string          `json:"previewUrl,omitempty"`
	Status        Status          `json:"status"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	ServerID      string          `json:"serverId,omitempty"`
	RolloutCohort metadata.Cohort `json:"rolloutCohort,omitempty"`
}

// CreateResult is returned by Create.
type CreateResult struct {
	Token            string
	Session          *Session
	DeploymentStatus DeploymentStatus
}

// GetResult is returned by Get.
type GetResult struct {
	Claims           *token.Claims
	Session          *Session
	DeploymentStatus DeploymentStatus
}

// HeartbeatResult is returned by Heartbeat.
type HeartbeatResult struct {
	Status    Status
	ExpiresAt time.Time
	Token     string
}

// Platform is the slice of the platform client the orchestrator depends on.
// *dokploy.Client satisfies it.
type Platform interface {
	ListProjects(ctx context.Context, requestID string) ([]dokploy.Project, error)
	GetProject(ctx context.Context, projectID, requestID string) (*dokploy.Project, error)
	CreateProject(ctx context.Context, input dokploy.CreateProjectInput, requestID string) (*dokploy.Project, error)

	CreateCompose(ctx context.Context, input dokploy.CreateComposeInput, requestID string) (*dokploy.Compose, error)
	GetCompose(ctx context.Context, composeID, requestID string) (*dokploy.Compose, error)
	UpdateCompose(ctx context.Context, input dokploy.UpdateComposeInput, requestID string) error
	DeleteCompose(ctx context.Context, composeID string, deleteVolumes bool, requestID string) error
	DeployCompose(ctx context.Context, composeID, requestID string) error
	RedeployCompose(ctx context.Context, composeID, requestID string) error

	ListDeployments(ctx context.Context, composeID, requestID string) ([]dokploy.Deployment, error)

	ListDomains(ctx context.Context, composeID, requestID string) ([]dokploy.Domain, error)
	GenerateDomain(ctx context.Context, appName, serverID, requestID string) (string, error)
	CreateDomain(ctx context.Context, input dokploy.CreateDomainInput, requestID string) (*dokploy.Domain, error)

	ListServers(ctx context.Context, requestID string) ([]dokploy.Server, error)

	WriteFile(ctx context.Context, input dokploy.WriteFileInput, requestID string) error
}

// ActorSweeper garbage-collects expired sessions for one actor.
// Implementations must be best-effort and non-blocking for held actors.
type ActorSweeper interface {
	Run(ctx context.Context, actorID, requestID string) error
}
