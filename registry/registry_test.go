package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velsin/swarmflow/types"
)

const triageYAML = `
id: triage
name: Triage
description: Classifies incoming requests and routes them onward.
capabilities: [classification, routing]
collaborators: [network, security]
prompt_ref: prompts/triage.md
supports_handoff: true
`

const loggerYAML = `
id: audit-writer
name: Audit Writer
description: Writes audit summaries.
capabilities: [reporting]
supports_handoff: false
`

func TestRegistry_LoadAndGet(t *testing.T) {
	t.Parallel()
	r := New(nil)

	d, err := r.Load([]byte(triageYAML))
	require.NoError(t, err)
	assert.Equal(t, "triage", d.ID)
	assert.True(t, d.SupportsHandoff)

	got, err := r.Get("triage")
	require.NoError(t, err)
	assert.Equal(t, []string{"network", "security"}, got.Collaborators)
}

func TestRegistry_GetUnknown(t *testing.T) {
	t.Parallel()
	r := New(nil)
	_, err := r.Get("ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestRegistry_LoadMalformed(t *testing.T) {
	t.Parallel()
	r := New(nil)

	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", ":::{{{"},
		{"missing id", "name: anonymous"},
		{"self collaborator", "id: a\ncollaborators: [a]"},
		{"duplicate collaborator", "id: a\ncollaborators: [b, b]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, types.ErrDescriptorBad, types.GetErrorCode(err))
		})
	}
}

func TestRegistry_HandoffTargets(t *testing.T) {
	t.Parallel()
	r := New(nil)
	_, err := r.Load([]byte(triageYAML))
	require.NoError(t, err)

	targets, err := r.HandoffTargets("triage")
	require.NoError(t, err)
	assert.Len(t, targets, 2)
	_, ok := targets["network"]
	assert.True(t, ok)
}

func TestRegistry_HandoffTargets_DisabledAgentHasNone(t *testing.T) {
	t.Parallel()
	r := New(nil)
	// Collaborators declared but handoff disabled: targets must be empty.
	_, err := r.Load([]byte("id: a\ncollaborators: [b]\nsupports_handoff: false"))
	require.NoError(t, err)

	targets, err := r.HandoffTargets("a")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestRegistry_HandoffToolSchemas(t *testing.T) {
	t.Parallel()
	r := New(nil)
	_, err := r.Load([]byte(triageYAML))
	require.NoError(t, err)
	_, err = r.Load([]byte("id: network\ndescription: Handles network issues.\n"))
	require.NoError(t, err)

	schemas, err := r.HandoffToolSchemas("triage")
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	assert.Equal(t, "transfer_to_network", schemas[0].Name)
	assert.Contains(t, schemas[0].Description, "Handles network issues.")

	var params struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	require.NoError(t, json.Unmarshal(schemas[0].Parameters, &params))
	assert.Equal(t, "object", params.Type)
	assert.Contains(t, params.Properties, "reason")
	assert.Contains(t, params.Properties, "context")
	assert.Equal(t, []string{"reason"}, params.Required)
}

func TestRegistry_HandoffToolSchemas_NoHandoffSupport(t *testing.T) {
	t.Parallel()
	r := New(nil)
	_, err := r.Load([]byte(loggerYAML))
	require.NoError(t, err)

	schemas, err := r.HandoffToolSchemas("audit-writer")
	require.NoError(t, err)
	assert.Empty(t, schemas)
}

func TestRegistry_LoadDirAndVerify(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triage.yaml"), []byte(triageYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "network.yaml"), []byte("id: network"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "security.yml"), []byte("id: security"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not a descriptor"), 0o644))

	r := New(nil)
	require.NoError(t, r.LoadDir(dir))
	assert.Equal(t, []string{"network", "security", "triage"}, r.IDs())
	assert.NoError(t, r.Verify())
}

func TestRegistry_LoadDir_FailsClosedOnBadDescriptor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: no id here"), 0o644))

	r := New(nil)
	err := r.LoadDir(dir)
	require.Error(t, err)
	assert.Equal(t, types.ErrDescriptorBad, types.GetErrorCode(err))
}

func TestRegistry_Verify_UnknownCollaborator(t *testing.T) {
	t.Parallel()
	r := New(nil)
	_, err := r.Load([]byte(triageYAML))
	require.NoError(t, err)

	err = r.Verify()
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestRegistry_Reload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(triageYAML), 0o644))

	r := New(nil)
	_, err := r.LoadFile(path)
	require.NoError(t, err)

	// Mutate the file, reload, and observe the change.
	updated := "id: triage\nname: Triage v2\ncollaborators: [network]\nsupports_handoff: true\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	d, err := r.Reload("triage")
	require.NoError(t, err)
	assert.Equal(t, "Triage v2", d.Name)
	assert.Equal(t, []string{"network"}, d.Collaborators)
}

func TestRegistry_Reload_UnknownSource(t *testing.T) {
	t.Parallel()
	r := New(nil)
	_, err := r.Load([]byte(triageYAML)) // loaded from bytes, no source path
	require.NoError(t, err)

	_, err = r.Reload("triage")
	assert.Error(t, err)
}
