package orchestration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meridianlabs/cogniflow/core"
)

// WorkflowTemplate is a YAML-defined workflow shape: a named, reusable set
// of steps and a default strategy, loaded from disk rather than built up
// programmatically for every request.
type WorkflowTemplate struct {
	Name             string                   `yaml:"name"`
	Strategy         core.ExecutionStrategy   `yaml:"strategy"`
	TotalTimeoutSecs int                      `yaml:"total_timeout_seconds"`
	ContinueOnError  bool                     `yaml:"continue_on_error"`
	Steps            []WorkflowTemplateStep   `yaml:"steps"`
}

// WorkflowTemplateStep mirrors core.WorkflowStep in YAML-friendly form.
type WorkflowTemplateStep struct {
	AgentID            string             `yaml:"agent_id"`
	InputType          string             `yaml:"input_type"`
	Dependencies       []string           `yaml:"dependencies"`
	Priority           int                `yaml:"priority"`
	ParameterOverrides map[string]float64 `yaml:"parameter_overrides"`
}

// TemplateStore loads and caches WorkflowTemplates from a directory of
// YAML files, one workflow per file.
type TemplateStore struct {
	dir       string
	templates map[string]*WorkflowTemplate
}

// NewTemplateStore creates a TemplateStore rooted at dir. Loading is
// deferred to Load/LoadAll so callers control when disk I/O happens.
func NewTemplateStore(dir string) *TemplateStore {
	return &TemplateStore{dir: dir, templates: make(map[string]*WorkflowTemplate)}
}

// LoadAll reads every *.yaml/*.yml file in the store's directory. A
// missing directory is not an error: it means no templates are defined
// yet.
func (s *TemplateStore) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("orchestration: reading template dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if err := s.loadFile(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("orchestration: loading template %s: %w", name, err)
		}
	}
	return nil
}

func (s *TemplateStore) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var tmpl WorkflowTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return fmt.Errorf("parsing template: %w", err)
	}
	if tmpl.Name == "" {
		return fmt.Errorf("template %s: missing name", path)
	}
	s.templates[tmpl.Name] = &tmpl
	return nil
}

// Get returns a loaded template by name.
func (s *TemplateStore) Get(name string) (*WorkflowTemplate, bool) {
	tmpl, ok := s.templates[name]
	return tmpl, ok
}

// Build turns a named template plus per-step inputs (keyed by agent id)
// into a core.WorkflowRequest ready for Orchestrator.Execute. Steps not
// present in inputs run with an empty input payload.
func (s *TemplateStore) Build(name string, execCtx *core.ExecutionContext, inputs map[string]string) (core.WorkflowRequest, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return core.WorkflowRequest{}, fmt.Errorf("orchestration: template %q not found", name)
	}

	steps := make([]core.WorkflowStep, len(tmpl.Steps))
	for i, ts := range tmpl.Steps {
		steps[i] = core.WorkflowStep{
			AgentID:            ts.AgentID,
			Input:              inputs[ts.AgentID],
			InputType:          ts.InputType,
			Dependencies:       ts.Dependencies,
			Priority:           ts.Priority,
			ParameterOverrides: ts.ParameterOverrides,
		}
	}

	return core.WorkflowRequest{
		Steps:            steps,
		Context:          execCtx,
		Strategy:         tmpl.Strategy,
		TotalTimeoutSecs: tmpl.TotalTimeoutSecs,
		ContinueOnError:  tmpl.ContinueOnError,
	}, nil
}
