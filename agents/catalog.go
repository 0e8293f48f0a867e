package agents

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/codeforge/framework"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// ErrAgentNotFound indicates lookup failure.
var ErrAgentNotFound = errors.New("agent not found")

// AgentSpec describes one agent of the workflow.
type AgentSpec struct {
	ID           string              `yaml:"-" json:"id"`
	Name         string              `yaml:"name" json:"name"`
	Role         framework.AgentRole `yaml:"role" json:"role"`
	Instructions string              `yaml:"instructions" json:"instructions"`
	Model        string              `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature  *float64            `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens    int                 `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// Options merges the agent's sampling settings over base.
func (s AgentSpec) Options(base *framework.LLMOptions) *framework.LLMOptions {
	out := framework.LLMOptions{}
	if base != nil {
		out = *base
		out.Stop = append([]string(nil), base.Stop...)
	}
	if s.Model != "" {
		out.Model = s.Model
	}
	if s.Temperature != nil {
		out.Temperature = *s.Temperature
	}
	if s.MaxTokens > 0 {
		out.MaxTokens = s.MaxTokens
	}
	return &out
}

type catalogFile struct {
	Workflow []string             `yaml:"workflow"`
	Agents   map[string]AgentSpec `yaml:"agents"`
}

// Catalog holds the known agents and the default workflow order.
type Catalog struct {
	agents   map[string]AgentSpec
	workflow []string
}

// DefaultCatalog returns the built-in planner, coder, reviewer and auditor.
func DefaultCatalog() *Catalog {
	c := &Catalog{agents: map[string]AgentSpec{}}
	if err := c.merge(builtinCatalog); err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return c
}

// LoadCatalog returns the built-in catalog with the overrides from path
// applied. A missing file yields the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	if err := c.merge(data); err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) merge(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	for id, spec := range file.Agents {
		if err := c.Override(id, spec); err != nil {
			return err
		}
	}
	if len(file.Workflow) > 0 {
		c.workflow = append([]string(nil), file.Workflow...)
	}
	return nil
}

// Override merges the non-empty fields of spec into agent id, adding the
// agent when it is unknown. New agents need a valid role and instructions.
func (c *Catalog) Override(id string, spec AgentSpec) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("agent id required")
	}
	cur, known := c.agents[id]
	cur.ID = id
	if spec.Name != "" {
		cur.Name = spec.Name
	}
	if spec.Role != "" {
		cur.Role = spec.Role
	}
	if spec.Instructions != "" {
		cur.Instructions = strings.TrimSpace(spec.Instructions)
	}
	if spec.Model != "" {
		cur.Model = spec.Model
	}
	if spec.Temperature != nil {
		t := *spec.Temperature
		cur.Temperature = &t
	}
	if spec.MaxTokens > 0 {
		cur.MaxTokens = spec.MaxTokens
	}
	if !cur.Role.Valid() {
		return fmt.Errorf("agent %s: unknown role %q", id, cur.Role)
	}
	if !known && cur.Instructions == "" {
		return fmt.Errorf("agent %s: instructions required", id)
	}
	if cur.Name == "" {
		cur.Name = id
	}
	c.agents[id] = cur
	return nil
}

// Get retrieves an agent by ID.
func (c *Catalog) Get(id string) (AgentSpec, bool) {
	spec, ok := c.agents[id]
	return spec, ok
}

// Resolve looks up every ID in order.
func (c *Catalog) Resolve(ids []string) ([]AgentSpec, error) {
	out := make([]AgentSpec, 0, len(ids))
	for _, id := range ids {
		spec, ok := c.agents[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		out = append(out, spec)
	}
	return out, nil
}

// Workflow returns the default agent order.
func (c *Catalog) Workflow() []string {
	return append([]string(nil), c.workflow...)
}

// List returns every agent sorted by ID.
func (c *Catalog) List() []AgentSpec {
	out := make([]AgentSpec, 0, len(c.agents))
	for _, spec := range c.agents {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
