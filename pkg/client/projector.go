package client

import (
	"fmt"
	"time"

	"github.com/boltlabs/runtimed/pkg/session"
)

// Preview projection tunables.
const (
	// queuedDeployTimeout is how long a deployment may sit queued before the
	// projector intervenes.
	queuedDeployTimeout = 180 * time.Second

	// maxAutoRedeploys bounds how many times a stuck queue is retried before
	// surfacing an error.
	maxAutoRedeploys = 1

	// reconnectGrace is how long after the last healthy observation a
	// transient failure renders as reconnecting instead of error.
	reconnectGrace = 30 * time.Second
)

// PreviewState is the state shown by the preview pane.
type PreviewState string

const (
	PreviewProvisioning PreviewState = "provisioning"
	PreviewDeploying    PreviewState = "deploying"
	PreviewReady        PreviewState = "ready"
	PreviewError        PreviewState = "error"
	PreviewReconnecting PreviewState = "reconnecting"
)

// ProjectorInput is the observed session state fed into Project.
type ProjectorInput struct {
	Connection       ConnectionState
	SessionStatus    session.Status
	DeploymentStatus session.DeploymentStatus
	RuntimeToken     string
	PreviewURL       string
	ComposeID        string
	ChatID           string
}

// ProjectorMemory is carried between Project calls. The zero value is a
// fresh memory.
type ProjectorMemory struct {
	SessionKey       string
	RetryCount       int
	QueuedSince      *time.Time
	ReconnectSince   *time.Time
	LastHealthyAt    *time.Time
	LastTransitionAt time.Time
	LastState        PreviewState
}

// PreviewSnapshot is the rendered preview state.
type PreviewSnapshot struct {
	State            PreviewState
	Message          string
	RetryCount       int
	MaxRetries       int
	QueuedSince      *time.Time
	LastTransitionAt time.Time
}

// Projection is the result of one Project call.
type Projection struct {
	Snapshot           PreviewSnapshot
	Memory             ProjectorMemory
	ShouldAutoRedeploy bool
}

// Project derives the preview state from the observed session state. It is
// pure: identical inputs produce identical outputs, and the caller owns
// persisting the returned memory for the next call.
func Project(in ProjectorInput, memory ProjectorMemory, now time.Time) Projection {
	key := in.ChatID + "\x00" + in.ComposeID
	if memory.SessionKey != key {
		memory = ProjectorMemory{SessionKey: key}
	}

	if in.DeploymentStatus == session.DeploymentQueued {
		if memory.QueuedSince == nil {
			t := now
			memory.QueuedSince = &t
		}
	} else {
		memory.QueuedSince = nil
	}

	var shouldAutoRedeploy bool
	var queuedTimedOut bool
	if memory.QueuedSince != nil && now.Sub(*memory.QueuedSince) >= queuedDeployTimeout {
		if memory.RetryCount < maxAutoRedeploys {
			shouldAutoRedeploy = true
			memory.RetryCount++
			memory.QueuedSince = nil
		} else {
			queuedTimedOut = true
		}
	}

	state, message := selectState(in, &memory, now, queuedTimedOut)

	if state != memory.LastState {
		memory.LastTransitionAt = now
		memory.LastState = state
	}

	return Projection{
		Snapshot: PreviewSnapshot{
			State:            state,
			Message:          message,
			RetryCount:       memory.RetryCount,
			MaxRetries:       maxAutoRedeploys,
			QueuedSince:      memory.QueuedSince,
			LastTransitionAt: memory.LastTransitionAt,
		},
		Memory:             memory,
		ShouldAutoRedeploy: shouldAutoRedeploy,
	}
}

func selectState(in ProjectorInput, memory *ProjectorMemory, now time.Time, queuedTimedOut bool) (PreviewState, string) {
	if queuedTimedOut {
		return PreviewError, fmt.Sprintf(
			"deployment stayed queued for more than %s after %d retry; the runtime may be out of capacity",
			queuedDeployTimeout, memory.RetryCount)
	}

	if in.Connection == ConnectionError || in.SessionStatus == session.StatusError {
		if in.RuntimeToken != "" && memory.LastHealthyAt != nil && now.Sub(*memory.LastHealthyAt) < reconnectGrace {
			if memory.ReconnectSince == nil {
				t := now
				memory.ReconnectSince = &t
			}
			return PreviewReconnecting, "connection to the runtime was interrupted, reconnecting"
		}
		return PreviewError, "the runtime session failed"
	}
	memory.ReconnectSince = nil

	switch {
	case in.SessionStatus == session.StatusCreating:
		return PreviewProvisioning, "provisioning the runtime"
	case in.DeploymentStatus == session.DeploymentQueued,
		in.DeploymentStatus == session.DeploymentRunning,
		in.SessionStatus == session.StatusDeploying:
		return PreviewDeploying, "deploying the app"
	case in.SessionStatus == session.StatusReady && in.DeploymentStatus == session.DeploymentDone:
		t := now
		memory.LastHealthyAt = &t
		return PreviewReady, ""
	case in.PreviewURL != "":
		return PreviewDeploying, "waiting for the app to come up"
	default:
		return PreviewProvisioning, "provisioning the runtime"
	}
}
