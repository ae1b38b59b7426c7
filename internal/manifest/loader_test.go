package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestlab/fetchd/internal/task"
)

func validEntry() task.ManifestEntry {
	return task.ManifestEntry{
		Category:      "images",
		PartNumber:    1,
		TotalParts:    2,
		Filename:      "part1.zip",
		URL:           "https://example.com/part1.zip",
		EstimatedSize: 1024,
	}
}

func TestValidateAcceptsWellFormedEntries(t *testing.T) {
	errs := Validate([]task.ManifestEntry{validEntry()})
	assert.Empty(t, errs)
}

func TestValidateCollectsAllErrorsNotJustFirst(t *testing.T) {
	bad := task.ManifestEntry{
		Category:      "x",
		PartNumber:    5,
		TotalParts:    0,
		Filename:      "",
		URL:           "not-a-url",
		EstimatedSize: -1,
	}
	errs := Validate([]task.ManifestEntry{bad})
	// total_parts, part_number range, filename, url, estimated_size: 5 problems
	assert.Len(t, errs, 5)
}

func TestValidateRejectsNonHTTPScheme(t *testing.T) {
	e := validEntry()
	e.URL = "ftp://example.com/file"
	errs := Validate([]task.ManifestEntry{e})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "url must be an absolute http(s) URL")
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	body := `{"dataset_name":"ds1","entries":[{"category":"images","part_number":1,"total_parts":1,"filename":"a.zip","url":"https://example.com/a.zip","estimated_size":10}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "ds1", m.Entries[0].DatasetName)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	body := "dataset_name: ds2\nentries:\n  - category: images\n    part_number: 1\n    total_parts: 1\n    filename: a.zip\n    url: https://example.com/a.zip\n    estimated_size: 10\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "ds2", m.Entries[0].DatasetName)
}

func TestLoadPropagatesValidationErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	body := `{"dataset_name":"ds1","entries":[{"total_parts":0}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid entr")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/manifest.json")
	assert.Error(t, err)
}

func TestLoadDefaultsEntryDatasetNameOnlyWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	body := `{"dataset_name":"outer","entries":[{"category":"images","part_number":1,"total_parts":1,"filename":"a.zip","url":"https://example.com/a.zip","estimated_size":10,"dataset_name":"inner"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "inner", m.Entries[0].DatasetName)
}
