// Package supervisor owns the lifecycle of out-of-process capability
// handlers: a registry of launch descriptors, the process table, and the
// start/stop/health operations the workflow engine calls through.
package supervisor

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Descriptor describes how to launch and probe one handler service.
// Registered once at startup; immutable thereafter except through
// explicit re-registration.
type Descriptor struct {
	// Name uniquely identifies the handler in the registry.
	Name string `yaml:"name" json:"name"`

	// Transport is the handler's RPC transport kind (e.g. "streamable_http").
	Transport string `yaml:"transport" json:"transport"`

	// Command, Args and Env describe the child process launch.
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`

	// WorkDir is the handler's working directory. It is also prepended
	// to the child's PATH so handler-local helpers resolve first.
	WorkDir string `yaml:"work_dir" json:"work_dir,omitempty"`

	// Port is the local TCP port the handler serves on. Unique within
	// the registry.
	Port int `yaml:"port" json:"port"`

	// HealthPath is the liveness probe path; it returns success only
	// when the handler is ready to serve.
	HealthPath string `yaml:"health_path" json:"health_path"`

	// Description is a human-readable capability tag.
	Description string `yaml:"description" json:"description"`
}

// BaseURL returns the handler's local RPC endpoint.
func (d Descriptor) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d", d.Port)
}

func (d Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor name is required")
	}
	if d.Command == "" {
		return fmt.Errorf("descriptor %s: command is required", d.Name)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("descriptor %s: invalid port %d", d.Name, d.Port)
	}
	return nil
}

// DefaultGroup is the registry group containing every registered handler.
const DefaultGroup = "default"

// Registry holds handler descriptors and named groups of them.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	groups      map[string]map[string]struct{}
}

// NewRegistry creates an empty registry with the default group.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		groups: map[string]map[string]struct{}{
			DefaultGroup: {},
		},
	}
}

// Register inserts or replaces a descriptor. The insert is idempotent:
// re-registering the same name overwrites the previous descriptor. A
// port already claimed by a different handler is rejected.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	if d.HealthPath == "" {
		d.HealthPath = "/health"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, existing := range r.descriptors {
		if name != d.Name && existing.Port == d.Port {
			return &PortConflictError{Port: d.Port, Owner: name, Requested: d.Name}
		}
	}

	r.descriptors[d.Name] = d
	r.groups[DefaultGroup][d.Name] = struct{}{}
	return nil
}

// Describe returns the descriptor for a handler name.
func (r *Registry) Describe(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, &NotFoundError{Name: name}
	}
	return d, nil
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateGroup adds an empty named group. Creating an existing group is
// a no-op.
func (r *Registry) CreateGroup(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[group]; !ok {
		r.groups[group] = make(map[string]struct{})
	}
}

// DeleteGroup removes a named group. The default group cannot be removed.
func (r *Registry) DeleteGroup(group string) {
	if group == DefaultGroup {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, group)
}

// AddToGroup places a registered handler in a group.
func (r *Registry) AddToGroup(group, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descriptors[name]; !ok {
		return &NotFoundError{Name: name}
	}
	members, ok := r.groups[group]
	if !ok {
		return fmt.Errorf("group not found: %s", group)
	}
	members[name] = struct{}{}
	return nil
}

// RemoveFromGroup removes a handler from a group.
func (r *Registry) RemoveFromGroup(group, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.groups[group]; ok {
		delete(members, name)
	}
}

// Group returns the descriptors in a group sorted by name.
func (r *Registry) Group(group string) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.groups[group]
	if !ok {
		return nil, fmt.Errorf("group not found: %s", group)
	}

	out := make([]Descriptor, 0, len(members))
	for name := range members {
		if d, ok := r.descriptors[name]; ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// registryFile is the on-disk shape of the handler registry.
type registryFile struct {
	Handlers []Descriptor `yaml:"handlers"`
}

// LoadDescriptors reads handler descriptors from a YAML registry file.
func LoadDescriptors(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read handler registry %s: %w", path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse handler registry %s: %w", path, err)
	}

	return file.Handlers, nil
}
