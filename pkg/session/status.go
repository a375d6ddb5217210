package session

import (
	"sort"

	"github.com/boltlabs/runtimed/pkg/dokploy"
)

// DeriveDeploymentStatus reduces a compose's deployment history to a single
// status. With no deployments the compose is still queued; otherwise the most
// recently created deployment decides.
func DeriveDeploymentStatus(deployments []dokploy.Deployment) DeploymentStatus {
	if len(deployments) == 0 {
		return DeploymentQueued
	}

	sorted := make([]dokploy.Deployment, len(deployments))
	copy(sorted, deployments)
	// CreatedAt is an ISO-8601 string, so lexicographic order is time order.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt > sorted[j].CreatedAt
	})

	switch sorted[0].Status {
	case "done":
		return DeploymentDone
	case "error", "cancelled":
		return DeploymentError
	default:
		return DeploymentRunning
	}
}

// DeriveSessionStatus combines the deployment status with the compose's own
// status field into the session lifecycle status.
func DeriveSessionStatus(deploymentStatus DeploymentStatus, composeStatus string) Status {
	switch {
	case deploymentStatus == DeploymentError || composeStatus == "error":
		return StatusError
	case deploymentStatus == DeploymentDone || composeStatus == "done":
		return StatusReady
	case deploymentStatus == DeploymentRunning:
		return StatusDeploying
	default:
		return StatusCreating
	}
}

// reusable reports whether a session in this status may be handed back to a
// returning (actor, chat) instead of provisioning a new compose.
func reusable(status Status) bool {
	switch status {
	case StatusCreating, StatusDeploying, StatusReady:
		return true
	default:
		return false
	}
}
