// Package registry loads and caches agent descriptors and synthesizes the
// transfer tool schemas that let an agent request a handoff without the
// orchestrator hard-coding routing rules.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/velsin/swarmflow/types"
)

// AgentDescriptor is the static metadata of one agent. Immutable once
// loaded; reload by re-reading the agent source.
type AgentDescriptor struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	Capabilities    []string `yaml:"capabilities" json:"capabilities"`
	Collaborators   []string `yaml:"collaborators" json:"collaborators"`
	PromptRef       string   `yaml:"prompt_ref" json:"prompt_ref"`
	SupportsHandoff bool     `yaml:"supports_handoff" json:"supports_handoff"`
}

// validate checks the structural invariants of a descriptor.
func (d *AgentDescriptor) validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor missing id")
	}
	if strings.ContainsAny(d.ID, " \t\n/") {
		return fmt.Errorf("descriptor id %q contains invalid characters", d.ID)
	}
	seen := make(map[string]bool, len(d.Collaborators))
	for _, c := range d.Collaborators {
		if c == d.ID {
			return fmt.Errorf("agent %s lists itself as a collaborator", d.ID)
		}
		if seen[c] {
			return fmt.Errorf("agent %s lists collaborator %s twice", d.ID, c)
		}
		seen[c] = true
	}
	return nil
}

// Registry caches agent descriptors by id.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*AgentDescriptor
	sources map[string]string // agent id -> file path, for Reload
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents:  make(map[string]*AgentDescriptor),
		sources: make(map[string]string),
		logger:  logger.With(zap.String("component", "registry")),
	}
}

// Load parses a descriptor from raw YAML and caches it by id.
func (r *Registry) Load(source []byte) (*AgentDescriptor, error) {
	var d AgentDescriptor
	if err := yaml.Unmarshal(source, &d); err != nil {
		return nil, types.NewError(types.ErrDescriptorBad, "parse agent descriptor").WithCause(err)
	}
	if err := d.validate(); err != nil {
		return nil, types.NewError(types.ErrDescriptorBad, err.Error())
	}

	r.mu.Lock()
	r.agents[d.ID] = &d
	r.mu.Unlock()

	r.logger.Debug("agent descriptor loaded",
		zap.String("agent_id", d.ID),
		zap.Int("collaborators", len(d.Collaborators)),
		zap.Bool("supports_handoff", d.SupportsHandoff),
	)
	return &d, nil
}

// LoadFile reads and caches a descriptor from a YAML file, remembering the
// path so Reload can re-read it.
func (r *Registry) LoadFile(path string) (*AgentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrAgentNotFound, fmt.Sprintf("read descriptor %s", path)).WithCause(err)
	}
	d, err := r.Load(data)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sources[d.ID] = path
	r.mu.Unlock()
	return d, nil
}

// LoadDir loads every *.yaml / *.yml descriptor in a directory, in
// parallel. Loading fails closed: any malformed descriptor aborts the
// whole load so a broken agent can never be routed to.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read agent directory %s: %w", dir, err)
	}

	var g errgroup.Group
	g.SetLimit(8)
	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		loaded++
		g.Go(func() error {
			_, err := r.LoadFile(path)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.logger.Info("agent directory loaded", zap.String("dir", dir), zap.Int("agents", loaded))
	return nil
}

// Reload invalidates and re-reads the cache entry for a single agent id.
// Only agents loaded through LoadFile/LoadDir can be reloaded.
func (r *Registry) Reload(agentID string) (*AgentDescriptor, error) {
	r.mu.RLock()
	path, ok := r.sources[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, fmt.Sprintf("no source recorded for agent %s", agentID))
	}

	r.mu.Lock()
	delete(r.agents, agentID)
	r.mu.Unlock()

	return r.LoadFile(path)
}

// Remove drops an agent from the cache. Removing an unknown id is a no-op.
func (r *Registry) Remove(agentID string) {
	r.mu.Lock()
	delete(r.agents, agentID)
	delete(r.sources, agentID)
	r.mu.Unlock()
	r.logger.Info("agent descriptor removed", zap.String("agent_id", agentID))
}

// Get returns the cached descriptor for an agent id.
func (r *Registry) Get(agentID string) (*AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.agents[agentID]
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, fmt.Sprintf("agent %s is not registered", agentID))
	}
	return d, nil
}

// IDs returns the sorted ids of all loaded agents.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HandoffTargets returns the set of declared collaborators for an agent.
// Used to validate that a requested handoff target is legal.
func (r *Registry) HandoffTargets(agentID string) (map[string]struct{}, error) {
	d, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]struct{}, len(d.Collaborators))
	if !d.SupportsHandoff {
		return targets, nil
	}
	for _, c := range d.Collaborators {
		targets[c] = struct{}{}
	}
	return targets, nil
}

// Verify checks that every declared collaborator resolves to a loaded
// descriptor. Call after LoadDir, before routing.
func (r *Registry) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, d := range r.agents {
		for _, c := range d.Collaborators {
			if _, ok := r.agents[c]; !ok {
				return types.NewError(types.ErrAgentNotFound,
					fmt.Sprintf("agent %s declares unknown collaborator %s", id, c))
			}
		}
	}
	return nil
}

// transferToolParams is the parameter schema shared by every transfer tool.
type transferToolParams struct {
	Type       string                   `json:"type"`
	Properties map[string]toolParamSpec `json:"properties"`
	Required   []string                 `json:"required"`
}

type toolParamSpec struct {
	Type                 string         `json:"type"`
	Description          string         `json:"description,omitempty"`
	AdditionalProperties *toolParamSpec `json:"additionalProperties,omitempty"`
}

// TransferToolPrefix is the tool-name prefix that marks a handoff request.
const TransferToolPrefix = "transfer_to_"

// HandoffToolSchemas synthesizes one "transfer_to_<target>" invocation
// contract per declared collaborator. Agents that do not support handoff get
// an empty list.
func (r *Registry) HandoffToolSchemas(agentID string) ([]types.ToolSchema, error) {
	d, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	if !d.SupportsHandoff || len(d.Collaborators) == 0 {
		return nil, nil
	}

	schemas := make([]types.ToolSchema, 0, len(d.Collaborators))
	for _, target := range d.Collaborators {
		desc := fmt.Sprintf("Transfer the conversation to agent %q.", target)
		if td, err := r.Get(target); err == nil && td.Description != "" {
			desc = fmt.Sprintf("Transfer the conversation to agent %q: %s", target, td.Description)
		}

		params := transferToolParams{
			Type: "object",
			Properties: map[string]toolParamSpec{
				"reason": {
					Type:        "string",
					Description: "Why control should transfer to this agent.",
				},
				"context": {
					Type:                 "object",
					Description:          "Key-value context to carry over to the next agent.",
					AdditionalProperties: &toolParamSpec{Type: "string"},
				},
			},
			Required: []string{"reason"},
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal transfer tool parameters: %w", err)
		}

		schemas = append(schemas, types.ToolSchema{
			Name:        TransferToolPrefix + target,
			Description: desc,
			Parameters:  raw,
		})
	}
	return schemas, nil
}
