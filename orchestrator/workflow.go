// Package orchestrator executes pre-declared workflows: ordered subtask
// chains with input/output contracts, dependency ordering, recovery policy
// and checkpoint/resume.
package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/velsin/swarmflow/internal/graph"
	"github.com/velsin/swarmflow/recovery"
	"github.com/velsin/swarmflow/types"
)

// InputSpec declares one input variable a subtask consumes.
type InputSpec struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
}

// SubtaskSpec declares one unit of work in a workflow.
type SubtaskSpec struct {
	Name string `yaml:"name" json:"name"`
	// Agent names the agent that runs this subtask. Empty falls back to
	// the orchestrator's default agent.
	Agent  string      `yaml:"agent" json:"agent,omitempty"`
	Inputs []InputSpec `yaml:"inputs" json:"inputs,omitempty"`
	// OutputSchema is a structured example of the expected output. The
	// produced output must carry every key with a matching JSON type.
	OutputSchema map[string]any `yaml:"output_schema" json:"output_schema,omitempty"`
	// PromptTemplate references input variables as {{name}} placeholders.
	PromptTemplate string   `yaml:"prompt_template" json:"prompt_template"`
	DependsOn      []string `yaml:"depends_on" json:"depends_on,omitempty"`
	// Rollback names a registered rollback hook, run on final failure.
	Rollback string `yaml:"rollback" json:"rollback,omitempty"`
}

// RecoverySpec selects the workflow's failure handling.
type RecoverySpec struct {
	Strategy recovery.Strategy    `yaml:"strategy" json:"strategy"`
	Retry    recovery.RetryPolicy `yaml:"retry" json:"retry"`
}

// WorkflowDefinition is a parsed workflow document.
type WorkflowDefinition struct {
	Name     string        `yaml:"name" json:"name"`
	Overview string        `yaml:"overview" json:"overview,omitempty"`
	Recovery RecoverySpec  `yaml:"recovery" json:"recovery"`
	Subtasks []SubtaskSpec `yaml:"subtasks" json:"subtasks"`
	// MergeOutputs, when set, declares final_output as a map of the named
	// steps' outputs instead of the last successful step's output.
	MergeOutputs []string `yaml:"merge_outputs" json:"merge_outputs,omitempty"`
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// ParseWorkflow decodes and validates a workflow document. A cyclic
// depends_on graph or an unresolvable placeholder is a load-time error.
func ParseWorkflow(data []byte) (*WorkflowDefinition, error) {
	var wf WorkflowDefinition
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, types.NewError(types.ErrDescriptorBad, "workflow document is not valid YAML").WithCause(err)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// LoadWorkflow reads and parses a workflow file.
func LoadWorkflow(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrDescriptorBad, "reading workflow file "+path+" failed").WithCause(err)
	}
	return ParseWorkflow(data)
}

// Validate checks the structural invariants: unique non-empty subtask
// names, known strategy, dependencies that exist, an acyclic dependency
// graph, and prompt placeholders covered by declared inputs.
func (wf *WorkflowDefinition) Validate() error {
	if wf.Name == "" {
		return types.NewError(types.ErrDescriptorBad, "workflow name is required")
	}
	if len(wf.Subtasks) == 0 {
		return types.NewError(types.ErrDescriptorBad, "workflow declares no subtasks")
	}
	if wf.Recovery.Strategy == "" {
		wf.Recovery.Strategy = recovery.FailFast
	}
	if !wf.Recovery.Strategy.Valid() {
		return types.NewError(types.ErrDescriptorBad,
			fmt.Sprintf("unknown recovery strategy %q", wf.Recovery.Strategy))
	}

	names := make(map[string]*SubtaskSpec, len(wf.Subtasks))
	for i := range wf.Subtasks {
		st := &wf.Subtasks[i]
		if st.Name == "" {
			return types.NewError(types.ErrDescriptorBad, "subtask name is required")
		}
		if _, dup := names[st.Name]; dup {
			return types.NewError(types.ErrDescriptorBad, "duplicate subtask name "+st.Name)
		}
		names[st.Name] = st
	}

	for _, st := range wf.Subtasks {
		for _, dep := range st.DependsOn {
			if _, ok := names[dep]; !ok {
				return types.NewError(types.ErrDescriptorBad,
					fmt.Sprintf("subtask %s depends on unknown subtask %s", st.Name, dep))
			}
			if dep == st.Name {
				return types.NewError(types.ErrDescriptorBad,
					"subtask "+st.Name+" depends on itself")
			}
		}
		if err := validatePlaceholders(&st); err != nil {
			return err
		}
	}

	for _, merged := range wf.MergeOutputs {
		if _, ok := names[merged]; !ok {
			return types.NewError(types.ErrDescriptorBad,
				"merge_outputs references unknown subtask "+merged)
		}
	}

	if _, err := wf.ExecutionOrder(); err != nil {
		return err
	}
	return nil
}

// validatePlaceholders rejects prompts referencing variables the subtask
// never declared as inputs.
func validatePlaceholders(st *SubtaskSpec) error {
	declared := make(map[string]struct{}, len(st.Inputs))
	for _, in := range st.Inputs {
		declared[in.Name] = struct{}{}
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(st.PromptTemplate, -1) {
		if _, ok := declared[m[1]]; !ok {
			return types.NewError(types.ErrDescriptorBad,
				fmt.Sprintf("subtask %s prompt references undeclared variable %s", st.Name, m[1]))
		}
	}
	return nil
}

// ExecutionOrder returns the subtask names in topological order with
// declaration order as the tie-break. A dependency cycle is an error.
func (wf *WorkflowDefinition) ExecutionOrder() ([]string, error) {
	nodes := make([]string, 0, len(wf.Subtasks))
	deps := make(map[string][]string, len(wf.Subtasks))
	for _, st := range wf.Subtasks {
		nodes = append(nodes, st.Name)
		deps[st.Name] = st.DependsOn
	}
	order, err := graph.TopoSort(nodes, deps)
	if err != nil {
		var cycle *graph.CycleError
		msg := "workflow dependency graph is cyclic"
		if errors.As(err, &cycle) {
			msg = "workflow dependency cycle through subtask " + cycle.Node
		}
		return nil, types.NewError(types.ErrDescriptorBad, msg).WithCause(err)
	}
	return order, nil
}

// Subtask returns the named spec.
func (wf *WorkflowDefinition) Subtask(name string) *SubtaskSpec {
	for i := range wf.Subtasks {
		if wf.Subtasks[i].Name == name {
			return &wf.Subtasks[i]
		}
	}
	return nil
}

// renderPrompt substitutes {{name}} placeholders with resolved values.
func renderPrompt(template string, vars map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.Trim(m, "{} \t")
		v, ok := vars[name]
		if !ok {
			return m
		}
		return fmt.Sprintf("%v", v)
	})
}
