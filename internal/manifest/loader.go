// Package manifest loads and validates the external manifest of
// downloadable dataset parts fed into Manager.LoadManifest.
package manifest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ingestlab/fetchd/internal/task"
)

// Manifest is the decoded, validated input to Manager.LoadManifest.
type Manifest struct {
	DatasetName string              `json:"dataset_name" yaml:"dataset_name"`
	Entries     []task.ManifestEntry `json:"entries" yaml:"entries"`
}

// Load reads a manifest file, dispatching on extension: .yaml/.yml via
// yaml.v3, anything else via encoding/json. It validates every entry and
// returns all validation errors together rather than failing on the
// first, so a caller sees every problem in one shot.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
		}
	}

	if errs := Validate(m.Entries); len(errs) > 0 {
		return nil, fmt.Errorf("manifest %s has %d invalid entr(y/ies): %w", path, len(errs), joinErrs(errs))
	}
	for i := range m.Entries {
		if m.Entries[i].DatasetName == "" {
			m.Entries[i].DatasetName = m.DatasetName
		}
	}
	return &m, nil
}

// Validate checks every structural invariant a ManifestEntry must
// satisfy, returning one error per violation found (not just the first).
func Validate(entries []task.ManifestEntry) []error {
	var errs []error
	for i, e := range entries {
		if e.TotalParts < 1 {
			errs = append(errs, fmt.Errorf("entry %d (%s): total_parts must be >= 1, got %d", i, e.Filename, e.TotalParts))
		}
		if e.PartNumber < 1 || e.PartNumber > e.TotalParts {
			errs = append(errs, fmt.Errorf("entry %d (%s): part_number %d out of range [1,%d]", i, e.Filename, e.PartNumber, e.TotalParts))
		}
		if e.Filename == "" {
			errs = append(errs, fmt.Errorf("entry %d: filename is required", i))
		}
		u, err := url.Parse(e.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("entry %d (%s): url must be an absolute http(s) URL, got %q", i, e.Filename, e.URL))
		}
		if e.EstimatedSize < 0 {
			errs = append(errs, fmt.Errorf("entry %d (%s): estimated_size must be >= 0", i, e.Filename))
		}
	}
	return errs
}

func joinErrs(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
