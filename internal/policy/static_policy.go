package policy

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sanjabh11/consultflow/model"
)

// Evaluator computes the capability set granted to a caller.
type Evaluator interface {
	ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error)
}

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// StaticPolicy resolves capabilities from a YAML file mapping roles to
// capability strings.
type StaticPolicy struct {
	path string

	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicy creates a policy loaded from path.
func NewStaticPolicy(path string) (*StaticPolicy, error) {
	p := &StaticPolicy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// ResolveCapabilities returns the union of capabilities for all roles in the
// request context.
func (p *StaticPolicy) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range rctx.Roles {
		for _, c := range p.policy.Roles[role] {
			caps[c] = true
		}
	}
	return caps, nil
}

// Roles returns the number of roles defined by the loaded policy.
func (p *StaticPolicy) Roles() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.policy.Roles)
}

// Sync reloads the policy file from disk. On failure the previous policy
// stays in effect.
func (p *StaticPolicy) Sync() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("policy: reading policy file %s: %w", p.path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("policy: parsing policy file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.policy = pf
	p.mu.Unlock()

	return nil
}

// AllowAll grants every capability to every caller. It is used when no
// policy file is configured.
type AllowAll struct{}

// ResolveCapabilities always returns the "*" wildcard.
func (AllowAll) ResolveCapabilities(*model.RequestContext) (model.CapabilitySet, error) {
	return model.CapabilitySet{"*": true}, nil
}
