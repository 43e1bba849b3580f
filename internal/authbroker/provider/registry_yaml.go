package provider

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// YAMLRegistry is the default Registry implementation: provider
// descriptors come from a declarative providers.yaml file; tenant
// IntegrationConfig bindings are held in memory, since their real
// storage is an external collaborator this core only consumes through
// the Registry interface.
type YAMLRegistry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	configs     map[string]*IntegrationConfig // keyed by environmentID + "/" + providerConfigKey
}

// NewYAMLRegistry loads provider descriptors from path and resolves
// alias chains eagerly so GetDescriptor never has to recurse at
// request time.
func NewYAMLRegistry(path string) (*YAMLRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}

	var file map[string]Descriptor
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing providers file: %w", err)
	}

	resolved := make(map[string]Descriptor, len(file))
	for id := range file {
		d, err := resolveAlias(file, id, nil)
		if err != nil {
			return nil, err
		}
		resolved[id] = d
	}

	return &YAMLRegistry{
		descriptors: resolved,
		configs:     make(map[string]*IntegrationConfig),
	}, nil
}

// resolveAlias follows a chain of "alias: other-id" entries to the
// concrete descriptor, detecting cycles.
func resolveAlias(file map[string]Descriptor, id string, seen map[string]bool) (Descriptor, error) {
	d, ok := file[id]
	if !ok {
		return Descriptor{}, &ErrUnknownProvider{ProviderID: id}
	}
	if d.Alias == "" {
		return d, nil
	}
	if seen == nil {
		seen = make(map[string]bool)
	}
	if seen[id] {
		return Descriptor{}, fmt.Errorf("provider %q: alias cycle detected", id)
	}
	seen[id] = true
	return resolveAlias(file, d.Alias, seen)
}

func (r *YAMLRegistry) GetDescriptor(providerID string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[providerID]
	if !ok {
		return nil, &ErrUnknownProvider{ProviderID: providerID}
	}
	return &d, nil
}

// PutIntegrationConfig registers (or replaces) a tenant's binding.
// Exposed for tests and for the external collaborator that actually
// owns integration config storage to seed this in-memory view.
func (r *YAMLRegistry) PutIntegrationConfig(environmentID string, cfg *IntegrationConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[configKey(environmentID, cfg.ProviderConfigKey)] = cfg
}

func (r *YAMLRegistry) GetIntegrationConfig(environmentID, providerConfigKey string) (*IntegrationConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[configKey(environmentID, providerConfigKey)]
	if !ok {
		return nil, &ErrUnknownProviderConfig{ProviderConfigKey: providerConfigKey}
	}
	return cfg, nil
}

func configKey(environmentID, providerConfigKey string) string {
	return environmentID + "/" + providerConfigKey
}
