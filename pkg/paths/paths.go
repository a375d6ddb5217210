// Package paths maps between the virtual workdir shown to the editor and the
// relative paths used by the platform file manager.
//
// This is the single boundary guarding all platform calls against directory
// traversal: every path crossing into or out of the broker goes through it.
package paths

import (
	"strings"

	"github.com/boltlabs/runtimed/pkg/errors"
)

// VirtualRoot is the fixed workdir exposed to the editor. Virtual paths are
// the only form the UI ever sees.
const VirtualRoot = "/home/project"

// redeployTriggers are the dependency-manifest filenames (root only,
// lowercased) whose write requires a compose redeploy.
var redeployTriggers = map[string]struct{}{
	"package.json":       {},
	"package-lock.json":  {},
	"pnpm-lock.yaml":     {},
	"yarn.lock":          {},
	"bun.lockb":          {},
	"docker-compose.yml": {},
}

func errInvalidPath() error {
	return errors.NewBadRequest("Invalid runtime path", nil)
}

// ToPlatformPath converts a virtual path into the platform-relative form:
// no leading slash, forward slashes, no ".." segments. The virtual root
// itself maps to the empty string.
func ToPlatformPath(virtualPath string) (string, error) {
	p := strings.ReplaceAll(virtualPath, "\\", "/")

	switch {
	case p == VirtualRoot || p == VirtualRoot+"/":
		p = ""
	case strings.HasPrefix(p, VirtualRoot+"/"):
		p = p[len(VirtualRoot)+1:]
	default:
		p = strings.TrimLeft(p, "/")
	}

	if err := rejectTraversal(p); err != nil {
		return "", err
	}
	return p, nil
}

// ToVirtualPath converts a platform-relative path into the virtual form
// rooted at VirtualRoot.
func ToVirtualPath(platformPath string) (string, error) {
	p := strings.ReplaceAll(platformPath, "\\", "/")
	p = strings.TrimLeft(p, "/")

	if err := rejectTraversal(p); err != nil {
		return "", err
	}
	if p == "" {
		return VirtualRoot, nil
	}
	return VirtualRoot + "/" + p, nil
}

// IsRedeployTrigger reports whether the virtual path names a dependency
// manifest at the project root. Nested copies do not trigger redeploys.
func IsRedeployTrigger(virtualPath string) bool {
	p, err := ToPlatformPath(virtualPath)
	if err != nil {
		return false
	}
	_, ok := redeployTriggers[strings.ToLower(p)]
	return ok
}

func rejectTraversal(p string) error {
	if p == "" {
		return nil
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return errInvalidPath()
		}
	}
	return nil
}
