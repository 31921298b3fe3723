package orchestration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/cogniflow/core"
)

const sampleTemplate = `
name: research-and-summarize
strategy: dag
total_timeout_seconds: 60
continue_on_error: false
steps:
  - agent_id: researcher
    input_type: text
    priority: 5
  - agent_id: summarizer
    input_type: text
    dependencies: [researcher]
    priority: 3
`

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestTemplateStore_LoadAll_MissingDirIsNotError(t *testing.T) {
	store := NewTemplateStore(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, store.LoadAll())
	_, ok := store.Get("anything")
	assert.False(t, ok)
}

func TestTemplateStore_LoadAll_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "research.yaml", sampleTemplate)

	store := NewTemplateStore(dir)
	require.NoError(t, store.LoadAll())

	tmpl, ok := store.Get("research-and-summarize")
	require.True(t, ok)
	assert.Equal(t, core.StrategyDAG, tmpl.Strategy)
	assert.Len(t, tmpl.Steps, 2)
	assert.Equal(t, "researcher", tmpl.Steps[0].AgentID)
	assert.Equal(t, []string{"researcher"}, tmpl.Steps[1].Dependencies)
}

func TestTemplateStore_Build(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "research.yaml", sampleTemplate)

	store := NewTemplateStore(dir)
	require.NoError(t, store.LoadAll())

	execCtx := &core.ExecutionContext{SessionID: "s1"}
	req, err := store.Build("research-and-summarize", execCtx, map[string]string{
		"researcher": "find facts about X",
	})
	require.NoError(t, err)

	assert.Equal(t, core.StrategyDAG, req.Strategy)
	require.Len(t, req.Steps, 2)
	assert.Equal(t, "find facts about X", req.Steps[0].Input)
	assert.Equal(t, "", req.Steps[1].Input)
	assert.Same(t, execCtx, req.Context)
}

func TestTemplateStore_Build_UnknownTemplate(t *testing.T) {
	store := NewTemplateStore(t.TempDir())
	_, err := store.Build("missing", nil, nil)
	assert.Error(t, err)
}

func TestTemplateStore_LoadAll_RejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "bad.yaml", "strategy: sequential\nsteps: []\n")

	store := NewTemplateStore(dir)
	assert.Error(t, store.LoadAll())
}
