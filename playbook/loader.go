package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/detectforge/runbookcore/model"
)

type runbookDoc struct {
	Runbook model.Runbook `yaml:"runbook"`
}

// Loader parses and validates runbook YAML. File-path loads are cached
// keyed by absolute path; string loads are never cached.
type Loader struct {
	mu    sync.RWMutex
	cache map[string]*model.Runbook
}

// NewLoader returns a ready Loader with an empty cache.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]*model.Runbook)}
}

// LoadFile parses and validates the runbook at path, using the cache
// keyed by the resolved absolute path.
func (l *Loader) LoadFile(path string) (*model.Runbook, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("playbook: resolve path %q: %w", path, err)
	}

	l.mu.RLock()
	if rb, ok := l.cache[abs]; ok {
		l.mu.RUnlock()
		return rb, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("playbook: read %q: %w", abs, err)
	}
	rb, err := LoadString(string(data))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[abs] = rb
	l.mu.Unlock()
	return rb, nil
}

// LoadString parses and validates a runbook document from raw YAML.
// It is lenient to trailing slashes and surrounding whitespace, and is
// never cached.
func LoadString(doc string) (*model.Runbook, error) {
	doc = strings.TrimRight(strings.TrimSpace(doc), "/")

	var wrapper runbookDoc
	dec := yaml.NewDecoder(strings.NewReader(doc))
	if err := dec.Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("playbook: parse yaml: %w", err)
	}

	rb := wrapper.Runbook
	if err := Validate(&rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

// Summary is the lightweight metadata extracted by List, without
// running full validation.
type Summary struct {
	Path            string
	Name            string
	Version         string
	AutomationLevel string
}

// List scans dir for .yml/.yaml files and extracts Name/Version/
// AutomationLevel without full validation. Unreadable or unparsable
// files are skipped silently.
func List(dir string) ([]Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("playbook: read dir %q: %w", dir, err)
	}

	var out []Summary
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var wrapper runbookDoc
		if err := yaml.Unmarshal(data, &wrapper); err != nil {
			continue
		}
		out = append(out, Summary{
			Path:            path,
			Name:            wrapper.Runbook.Metadata.Name,
			Version:         wrapper.Runbook.Version,
			AutomationLevel: string(wrapper.Runbook.Config.AutomationLevel),
		})
	}
	return out, nil
}
