package templates

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFallsBackToDefault(t *testing.T) {
	t.Parallel()

	def := Lookup("")
	assert.Equal(t, DefaultID, def.ID)

	unknown := Lookup("no-such-template")
	assert.Equal(t, DefaultID, unknown.ID)

	named := Lookup(DefaultID)
	assert.Equal(t, def.ID, named.ID)
}

func TestDefaultTemplateShape(t *testing.T) {
	t.Parallel()

	tmpl := Lookup(DefaultID)

	require.NotEmpty(t, tmpl.ComposeFile, "compose file extracted from the template")
	assert.NotContains(t, tmpl.Files, composeFileName, "compose file is not seeded through the file manager")
	assert.Contains(t, tmpl.Files, "package.json")
	assert.NotEmpty(t, tmpl.Files)
}

func TestSortedFilesIsDeterministic(t *testing.T) {
	t.Parallel()

	tmpl := Template{
		ID: "x",
		Files: map[string]string{
			"src/main.tsx": "b",
			"index.html":   "a",
			"package.json": "c",
		},
	}

	files := tmpl.SortedFiles()
	require.Len(t, files, 3)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.True(t, sort.StringsAreSorted(paths))
	assert.Equal(t, files, tmpl.SortedFiles())
}

func TestIDsIncludesDefault(t *testing.T) {
	t.Parallel()

	ids := IDs()
	assert.Contains(t, ids, DefaultID)
	assert.True(t, sort.StringsAreSorted(ids))
}
