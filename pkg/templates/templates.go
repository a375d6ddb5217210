// Package templates ships the project templates a fresh session is seeded
// with.
package templates

import (
	"embed"
	"io/fs"
	"sort"
	"sync"
)

//go:embed all:vite-react
var templateFS embed.FS

// DefaultID is the template used when the requested id is unknown or empty.
const DefaultID = "vite-react"

// composeFileName is provided to the platform as the compose source rather
// than written through the file manager.
const composeFileName = "docker-compose.yml"

// File is one seeded workspace file.
type File struct {
	Path    string
	Content string
}

// Template is a compose file plus the workspace files to seed.
type Template struct {
	ID          string
	ComposeFile string
	Files       map[string]string
}

// SortedFiles returns the seeded files in deterministic path order.
func (t Template) SortedFiles() []File {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	files := make([]File, 0, len(paths))
	for _, p := range paths {
		files = append(files, File{Path: p, Content: t.Files[p]})
	}
	return files
}

var loadAll = sync.OnceValue(func() map[string]Template {
	templates := make(map[string]Template)

	roots, err := fs.ReadDir(templateFS, ".")
	if err != nil {
		panic("templates: embedded FS unreadable: " + err.Error())
	}

	for _, root := range roots {
		if !root.IsDir() {
			continue
		}
		id := root.Name()
		tmpl := Template{ID: id, Files: make(map[string]string)}

		err := fs.WalkDir(templateFS, id, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			content, err := fs.ReadFile(templateFS, path)
			if err != nil {
				return err
			}
			rel := path[len(id)+1:]
			if rel == composeFileName {
				tmpl.ComposeFile = string(content)
				return nil
			}
			tmpl.Files[rel] = string(content)
			return nil
		})
		if err != nil {
			panic("templates: failed to load " + id + ": " + err.Error())
		}
		templates[id] = tmpl
	}

	return templates
})

// Lookup returns the template for id, falling back to the default for
// unknown ids.
func Lookup(id string) Template {
	all := loadAll()
	if tmpl, ok := all[id]; ok {
		return tmpl
	}
	return all[DefaultID]
}

// IDs returns the known template ids, sorted.
func IDs() []string {
	all := loadAll()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
