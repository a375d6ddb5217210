package dokploy

// Project is a platform project grouping environments and composes.
type Project struct {
	ProjectID    string        `json:"projectId"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Environments []Environment `json:"environments,omitempty"`
}

// Environment is a deploy environment within a project.
type Environment struct {
	EnvironmentID string    `json:"environmentId"`
	Name          string    `json:"name"`
	IsDefault     bool      `json:"isDefault,omitempty"`
	Composes      []Compose `json:"compose,omitempty"`
}

// Compose is the platform-side deployment unit. Its description field is the
// broker's metadata slot.
type Compose struct {
	ComposeID     string `json:"composeId"`
	Name          string `json:"name"`
	AppName       string `json:"appName,omitempty"`
	Description   string `json:"description,omitempty"`
	ComposeStatus string `json:"composeStatus,omitempty"`
	ServerID      string `json:"serverId,omitempty"`
	EnvironmentID string `json:"environmentId,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// Deployment is one deploy attempt of a compose.
type Deployment struct {
	DeploymentID string `json:"deploymentId"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// Domain is a routed hostname attached to a compose.
type Domain struct {
	DomainID        string `json:"domainId,omitempty"`
	Host            string `json:"host"`
	Path            string `json:"path,omitempty"`
	Port            int    `json:"port,omitempty"`
	HTTPS           bool   `json:"https"`
	CertificateType string `json:"certificateType,omitempty"`
	ServiceName     string `json:"serviceName,omitempty"`
	ComposeID       string `json:"composeId,omitempty"`
}

// Server is a deploy server registered on the platform.
type Server struct {
	ServerID string `json:"serverId"`
	Name     string `json:"name,omitempty"`
	SSHKeyID string `json:"sshKeyId,omitempty"`
}

// FileEntry is one entry in a file-manager listing or search result.
type FileEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Type       string `json:"type"` // "file" or "directory"
	Size       int64  `json:"size,omitempty"`
	ModifiedAt string `json:"modifiedAt,omitempty"`
}

// FileContent is the payload of a file read.
type FileContent struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"` // "utf8" or "base64"
	IsBinary bool   `json:"isBinary,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// CreateProjectInput is the input for project.create.
type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateComposeInput is the input for compose.create.
type CreateComposeInput struct {
	Name          string `json:"name"`
	AppName       string `json:"appName,omitempty"`
	EnvironmentID string `json:"environmentId"`
	ComposeType   string `json:"composeType"`
	ComposeFile   string `json:"composeFile,omitempty"`
	Description   string `json:"description,omitempty"`
	ServerID      string `json:"serverId,omitempty"`
}

// UpdateComposeInput is the input for compose.update. Pointer fields are
// omitted when nil so partial updates don't clobber unrelated settings.
type UpdateComposeInput struct {
	ComposeID   string  `json:"composeId"`
	SourceType  *string `json:"sourceType,omitempty"`
	ComposePath *string `json:"composePath,omitempty"`
	ComposeFile *string `json:"composeFile,omitempty"`
	Description *string `json:"description,omitempty"`
}

// CreateDomainInput is the input for domain.create.
type CreateDomainInput struct {
	Host            string `json:"host"`
	Path            string `json:"path"`
	Port            int    `json:"port"`
	HTTPS           bool   `json:"https"`
	CertificateType string `json:"certificateType"`
	ComposeID       string `json:"composeId"`
	ServiceName     string `json:"serviceName"`
	DomainType      string `json:"domainType,omitempty"`
}

// WriteFileInput is the input for the file-manager write procedure.
type WriteFileInput struct {
	ComposeID string `json:"composeId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Encoding  string `json:"encoding,omitempty"`
	Overwrite bool   `json:"overwrite"`
}

// String returns a pointer to s, for optional update fields.
func String(s string) *string {
	return &s
}
