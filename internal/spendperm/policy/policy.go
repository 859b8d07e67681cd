// Package policy holds the per-permission-type capability modules that get
// the last word on a requested action. Each permission names one policy and
// carries an opaque CBOR configuration blob for it.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BrandonDHaskell/spendperm/server/internal/codec"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

var (
	ErrUnknownPolicy = errors.New("policy: unknown policy")
	ErrInvalidConfig = errors.New("policy: invalid configuration")
	ErrViolation     = errors.New("policy: action violates permission policy")
)

// Policy validates an action against a permission's configuration.
type Policy interface {
	Validate(ctx context.Context, config []byte, action types.Action) error
}

// SecondFactor is implemented by policies that can demand an overseer
// signature in addition to the delegated signer's.
type SecondFactor interface {
	RequiresSecondFactor(config []byte) (bool, error)
}

// ConfigChecker is implemented by policies that can reject a configuration
// up front, at approval time.
type ConfigChecker interface {
	CheckConfig(config []byte) error
}

// Registry maps policy names to implementations.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// DefaultRegistry returns a registry with the built-in policies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(TransferName, Transfer{})
	_ = r.Register(AllowedTargetsName, AllowedTargets{})
	return r
}

// Register adds p under name. Names are unique.
func (r *Registry) Register(name string, p Policy) error {
	if name == "" {
		return fmt.Errorf("policy: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[name]; exists {
		return fmt.Errorf("policy %q already registered", name)
	}
	r.policies[name] = p
	return nil
}

// Lookup returns the policy registered under name.
func (r *Registry) Lookup(name string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// CheckConfig verifies name is registered and, when the policy supports it,
// that config is acceptable.
func (r *Registry) CheckConfig(name string, config []byte) error {
	p, err := r.Lookup(name)
	if err != nil {
		return err
	}
	if c, ok := p.(ConfigChecker); ok {
		return c.CheckConfig(config)
	}
	return nil
}

// RequiresSecondFactor reports whether the named policy wants an overseer
// proof for this configuration.
func (r *Registry) RequiresSecondFactor(name string, config []byte) (bool, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return false, err
	}
	if sf, ok := p.(SecondFactor); ok {
		return sf.RequiresSecondFactor(config)
	}
	return false, nil
}

// decodeConfig unpacks a CBOR configuration. An empty blob is the zero value.
func decodeConfig(config []byte, v any) error {
	if len(config) == 0 {
		return nil
	}
	if err := codec.Unmarshal(config, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// EncodeConfig produces the deterministic configuration blob for v.
func EncodeConfig(v any) ([]byte, error) {
	return codec.Marshal(v)
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrViolation, fmt.Sprintf(format, args...))
}

func violationConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
