package dokploy

import (
	"context"
)

// File-manager procedure names.
const (
	procFilesList   = "fileManager.listFiles"
	procFilesRead   = "fileManager.readFile"
	procFilesWrite  = "fileManager.writeFile"
	procFilesMkdir  = "fileManager.createDirectory"
	procFilesDelete = "fileManager.deleteFile"
	procFilesSearch = "fileManager.search"
)

// ListFiles lists the entries under a platform-relative path. The empty path
// is the workspace root.
func (c *Client) ListFiles(ctx context.Context, composeID, path, requestID string) ([]FileEntry, error) {
	if err := requireFields(procFilesList, map[string]string{"composeId": composeID}); err != nil {
		return nil, err
	}
	input := map[string]string{"composeId": composeID, "path": path}
	var entries []FileEntry
	if err := c.query(ctx, procFilesList, input, requestID, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadFile reads a file's content.
func (c *Client) ReadFile(ctx context.Context, composeID, path, requestID string) (*FileContent, error) {
	if err := requireFields(procFilesRead, map[string]string{
		"composeId": composeID,
		"path":      path,
	}); err != nil {
		return nil, err
	}
	input := map[string]string{"composeId": composeID, "path": path}
	var content FileContent
	if err := c.query(ctx, procFilesRead, input, requestID, &content); err != nil {
		return nil, err
	}
	if content.Path == "" {
		content.Path = path
	}
	if content.Encoding == "" {
		content.Encoding = "utf8"
	}
	return &content, nil
}

// WriteFile writes a file, creating or overwriting it.
func (c *Client) WriteFile(ctx context.Context, input WriteFileInput, requestID string) error {
	if err := requireFields(procFilesWrite, map[string]string{
		"composeId": input.ComposeID,
		"path":      input.Path,
	}); err != nil {
		return err
	}
	if input.Encoding == "" {
		input.Encoding = "utf8"
	}
	return c.mutate(ctx, procFilesWrite, input, requestID, nil)
}

// CreateDirectory creates a directory.
func (c *Client) CreateDirectory(ctx context.Context, composeID, path, requestID string) error {
	if err := requireFields(procFilesMkdir, map[string]string{
		"composeId": composeID,
		"path":      path,
	}); err != nil {
		return err
	}
	input := map[string]string{"composeId": composeID, "path": path}
	return c.mutate(ctx, procFilesMkdir, input, requestID, nil)
}

// DeletePath deletes a file or directory.
func (c *Client) DeletePath(ctx context.Context, composeID, path string, recursive bool, requestID string) error {
	if err := requireFields(procFilesDelete, map[string]string{
		"composeId": composeID,
		"path":      path,
	}); err != nil {
		return err
	}
	input := map[string]any{"composeId": composeID, "path": path, "recursive": recursive}
	return c.mutate(ctx, procFilesDelete, input, requestID, nil)
}

// SearchFiles searches file names and contents under a path.
func (c *Client) SearchFiles(ctx context.Context, composeID, query, path, requestID string) ([]FileEntry, error) {
	if err := requireFields(procFilesSearch, map[string]string{
		"composeId": composeID,
		"query":     query,
	}); err != nil {
		return nil, err
	}
	input := map[string]string{"composeId": composeID, "query": query, "path": path}
	var entries []FileEntry
	if err := c.query(ctx, procFilesSearch, input, requestID, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
