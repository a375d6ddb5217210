package dokploy

import (
	"context"
	"encoding/json"
)

// Procedure names on the platform RPC surface.
const (
	procProjectAll          = "project.all"
	procProjectOne          = "project.one"
	procProjectCreate       = "project.create"
	procComposeCreate       = "compose.create"
	procComposeOne          = "compose.one"
	procComposeUpdate       = "compose.update"
	procComposeDelete       = "compose.delete"
	procComposeDeploy       = "compose.deploy"
	procComposeRedeploy     = "compose.redeploy"
	procDeploymentByCompose = "deployment.allByCompose"
	procDomainByCompose     = "domain.byComposeId"
	procDomainGenerate      = "domain.generateDomain"
	procDomainCreate        = "domain.create"
	procServerWithSSHKey    = "server.withSSHKey"
)

// ListProjects returns all projects visible to the API key.
func (c *Client) ListProjects(ctx context.Context, requestID string) ([]Project, error) {
	var projects []Project
	if err := c.query(ctx, procProjectAll, nil, requestID, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject fetches a single project with its full environment list.
func (c *Client) GetProject(ctx context.Context, projectID, requestID string) (*Project, error) {
	if err := requireFields(procProjectOne, map[string]string{"projectId": projectID}); err != nil {
		return nil, err
	}
	var project Project
	if err := c.query(ctx, procProjectOne, map[string]string{"projectId": projectID}, requestID, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, input CreateProjectInput, requestID string) (*Project, error) {
	if err := requireFields(procProjectCreate, map[string]string{"name": input.Name}); err != nil {
		return nil, err
	}
	var project Project
	if err := c.mutate(ctx, procProjectCreate, input, requestID, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// CreateCompose creates a compose deployment.
func (c *Client) CreateCompose(ctx context.Context, input CreateComposeInput, requestID string) (*Compose, error) {
	if err := requireFields(procComposeCreate, map[string]string{
		"name":          input.Name,
		"environmentId": input.EnvironmentID,
		"composeType":   input.ComposeType,
	}); err != nil {
		return nil, err
	}
	var compose Compose
	if err := c.mutate(ctx, procComposeCreate, input, requestID, &compose); err != nil {
		return nil, err
	}
	return &compose, nil
}

// GetCompose fetches a single compose.
func (c *Client) GetCompose(ctx context.Context, composeID, requestID string) (*Compose, error) {
	if err := requireFields(procComposeOne, map[string]string{"composeId": composeID}); err != nil {
		return nil, err
	}
	var compose Compose
	if err := c.query(ctx, procComposeOne, map[string]string{"composeId": composeID}, requestID, &compose); err != nil {
		return nil, err
	}
	return &compose, nil
}

// UpdateCompose updates compose settings, including the description slot.
func (c *Client) UpdateCompose(ctx context.Context, input UpdateComposeInput, requestID string) error {
	if err := requireFields(procComposeUpdate, map[string]string{"composeId": input.ComposeID}); err != nil {
		return err
	}
	return c.mutate(ctx, procComposeUpdate, input, requestID, nil)
}

// DeleteCompose deletes a compose and, when deleteVolumes is set, its volumes.
func (c *Client) DeleteCompose(ctx context.Context, composeID string, deleteVolumes bool, requestID string) error {
	if err := requireFields(procComposeDelete, map[string]string{"composeId": composeID}); err != nil {
		return err
	}
	input := map[string]any{"composeId": composeID, "deleteVolumes": deleteVolumes}
	return c.mutate(ctx, procComposeDelete, input, requestID, nil)
}

// DeployCompose queues a deploy of the compose.
func (c *Client) DeployCompose(ctx context.Context, composeID, requestID string) error {
	if err := requireFields(procComposeDeploy, map[string]string{"composeId": composeID}); err != nil {
		return err
	}
	return c.mutate(ctx, procComposeDeploy, map[string]string{"composeId": composeID}, requestID, nil)
}

// RedeployCompose queues a redeploy of the compose.
func (c *Client) RedeployCompose(ctx context.Context, composeID, requestID string) error {
	if err := requireFields(procComposeRedeploy, map[string]string{"composeId": composeID}); err != nil {
		return err
	}
	return c.mutate(ctx, procComposeRedeploy, map[string]string{"composeId": composeID}, requestID, nil)
}

// ListDeployments returns the deployments of a compose.
func (c *Client) ListDeployments(ctx context.Context, composeID, requestID string) ([]Deployment, error) {
	if err := requireFields(procDeploymentByCompose, map[string]string{"composeId": composeID}); err != nil {
		return nil, err
	}
	var deployments []Deployment
	if err := c.query(ctx, procDeploymentByCompose, map[string]string{"composeId": composeID}, requestID, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// ListDomains returns the domains attached to a compose.
func (c *Client) ListDomains(ctx context.Context, composeID, requestID string) ([]Domain, error) {
	if err := requireFields(procDomainByCompose, map[string]string{"composeId": composeID}); err != nil {
		return nil, err
	}
	var domains []Domain
	if err := c.query(ctx, procDomainByCompose, map[string]string{"composeId": composeID}, requestID, &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// GenerateDomain asks the platform for a fresh hostname for the app.
func (c *Client) GenerateDomain(ctx context.Context, appName, serverID, requestID string) (string, error) {
	if err := requireFields(procDomainGenerate, map[string]string{"appName": appName}); err != nil {
		return "", err
	}
	input := map[string]string{"appName": appName}
	if serverID != "" {
		input["serverId"] = serverID
	}

	// The platform has returned both {"domain": "..."} and a bare string for
	// this procedure; accept either.
	var raw json.RawMessage
	if err := c.mutate(ctx, procDomainGenerate, input, requestID, &raw); err != nil {
		return "", err
	}

	var wrapped struct {
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Domain != "" {
		return wrapped.Domain, nil
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}
	return "", nil
}

// CreateDomain attaches a domain to a compose.
func (c *Client) CreateDomain(ctx context.Context, input CreateDomainInput, requestID string) (*Domain, error) {
	if err := requireFields(procDomainCreate, map[string]string{
		"host":      input.Host,
		"composeId": input.ComposeID,
	}); err != nil {
		return nil, err
	}
	var domain Domain
	if err := c.mutate(ctx, procDomainCreate, input, requestID, &domain); err != nil {
		return nil, err
	}
	return &domain, nil
}

// ListServers returns the SSH-enabled deploy servers.
func (c *Client) ListServers(ctx context.Context, requestID string) ([]Server, error) {
	var servers []Server
	if err := c.query(ctx, procServerWithSSHKey, nil, requestID, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}
