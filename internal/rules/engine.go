package rules

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/vasool/internal/domain"
)

// GlobalTenantID holds policies that apply to every tenant.
const GlobalTenantID = "*"

// PolicyEngine evaluates tenant collection policies written in CEL against
// reminder queue items.
type PolicyEngine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiled       map[string]map[string]*CompiledPolicy // tenant -> policy id
	contactCounter ContactCounter
	maxWorkers     int
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  *domain.Policy
	Program cel.Program
}

// ContactCounter returns how many follow-ups a customer received within window.
type ContactCounter func(ctx context.Context, tenantID, nameKey string, window time.Duration) (int64, error)

// NewPolicyEngine creates a new policy engine.
func NewPolicyEngine(contactCounter ContactCounter, maxWorkers int) (*PolicyEngine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("stage", cel.IntType),
		cel.Variable("risk", cel.StringType),
		cel.Variable("outstanding", cel.DoubleType),
		cel.Variable("max_overdue_days", cel.IntType),
		cel.Variable("invoice_count", cel.IntType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("recent_contacts", cel.IntType),
		cel.Variable("customer", cel.StringType),
		cel.Variable("virtual", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &PolicyEngine{
		env:            env,
		compiled:       make(map[string]map[string]*CompiledPolicy),
		contactCounter: contactCounter,
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidatePolicy compiles and validates a policy without loading it.
func (e *PolicyEngine) ValidatePolicy(p *domain.Policy) error {
	if p == nil {
		return fmt.Errorf("policy is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(p)
	return err
}

// LoadPolicy compiles and loads a single policy for its tenant.
func (e *PolicyEngine) LoadPolicy(p *domain.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePolicy(p)
	if err != nil {
		return err
	}

	tenant := p.TenantID
	if tenant == "" {
		tenant = GlobalTenantID
	}
	if e.compiled[tenant] == nil {
		e.compiled[tenant] = make(map[string]*CompiledPolicy)
	}
	e.compiled[tenant][p.ID] = compiled

	return nil
}

// UnloadPolicy removes a policy from the engine.
func (e *PolicyEngine) UnloadPolicy(tenantID, policyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiled[tenantID], policyID)
}

// ReloadPolicies replaces every loaded policy for a tenant.
// Disabled policies are skipped. On compile error nothing is replaced.
func (e *PolicyEngine) ReloadPolicies(tenantID string, policies []*domain.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*CompiledPolicy)
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		compiled, err := e.compilePolicy(p)
		if err != nil {
			return err
		}
		fresh[p.ID] = compiled
	}

	e.compiled[tenantID] = fresh
	return nil
}

// PoliciesCount returns the number of policies loaded for a tenant,
// including global ones.
func (e *PolicyEngine) PoliciesCount(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.compiled[GlobalTenantID])
	if tenantID != GlobalTenantID {
		n += len(e.compiled[tenantID])
	}
	return n
}

// LoadedPolicies returns the policies that apply to a tenant, ordered by
// priority then id.
func (e *PolicyEngine) LoadedPolicies(tenantID string) []*domain.Policy {
	compiled := e.snapshot(tenantID)

	out := make([]*domain.Policy, 0, len(compiled))
	for _, c := range compiled {
		out = append(out, c.Config)
	}
	return out
}

// PolicyInput is the queue item data exposed to policy expressions.
type PolicyInput struct {
	TenantID       string
	Customer       domain.CustomerRef
	CustomerName   string
	Stage          domain.Stage
	Risk           domain.RiskLevel
	Outstanding    float64
	MaxOverdueDays int
	InvoiceCount   int
	Channel        domain.Channel

	// CadenceWindow is the lookback for recent_contacts. Zero skips the lookup.
	CadenceWindow time.Duration
}

// Evaluate runs every applicable policy against the input in parallel.
// Matches are ordered by priority (highest first) then policy id.
// A policy that fails to evaluate is reported and does not stop the others.
func (e *PolicyEngine) Evaluate(ctx context.Context, input *PolicyInput) ([]domain.PolicyMatch, []domain.PolicyError) {
	policies := e.snapshot(input.TenantID)
	if len(policies) == 0 {
		return nil, nil
	}

	var recentContacts int64
	if e.contactCounter != nil && input.CadenceWindow > 0 {
		count, err := e.contactCounter(ctx, input.TenantID, input.Customer.NameKey, input.CadenceWindow)
		if err == nil {
			recentContacts = count
		}
	}

	activation := map[string]any{
		"stage":            int64(input.Stage),
		"risk":             string(input.Risk),
		"outstanding":      input.Outstanding,
		"max_overdue_days": int64(input.MaxOverdueDays),
		"invoice_count":    int64(input.InvoiceCount),
		"channel":          string(input.Channel),
		"recent_contacts":  recentContacts,
		"customer":         input.CustomerName,
		"virtual":          input.Customer.IsVirtual(),
	}

	type outcome struct {
		matched bool
		err     error
	}
	results := make([]outcome, len(policies))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, p := range policies {
		wg.Add(1)
		go func(idx int, cp *CompiledPolicy) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			matched, err := evalPolicy(cp, activation)
			results[idx] = outcome{matched: matched, err: err}
		}(i, p)
	}
	wg.Wait()

	var matches []domain.PolicyMatch
	var failures []domain.PolicyError
	for i, r := range results {
		cfg := policies[i].Config
		if r.err != nil {
			failures = append(failures, domain.PolicyError{PolicyID: cfg.ID, Reason: r.err.Error()})
			continue
		}
		if r.matched {
			matches = append(matches, domain.PolicyMatch{
				PolicyID: cfg.ID,
				Name:     cfg.Name,
				Action:   cfg.Action,
				Channel:  cfg.Channel,
				Priority: cfg.Priority,
			})
		}
	}

	return matches, failures
}

func evalPolicy(cp *CompiledPolicy, activation map[string]any) (bool, error) {
	out, _, err := cp.Program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression returned %s, want bool", out.Type())
	}
	return bool(b), nil
}

// snapshot returns global and tenant policies ordered by priority desc, id asc.
func (e *PolicyEngine) snapshot(tenantID string) []*CompiledPolicy {
	e.mu.RLock()
	var out []*CompiledPolicy
	for _, c := range e.compiled[GlobalTenantID] {
		out = append(out, c)
	}
	if tenantID != GlobalTenantID {
		for _, c := range e.compiled[tenantID] {
			out = append(out, c)
		}
	}
	e.mu.RUnlock()

	slices.SortFunc(out, func(a, b *CompiledPolicy) int {
		if c := cmp.Compare(b.Config.Priority, a.Config.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Config.ID, b.Config.ID)
	})
	return out
}

// Close unloads every policy.
func (e *PolicyEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]map[string]*CompiledPolicy)
	return nil
}

func (e *PolicyEngine) compilePolicy(p *domain.Policy) (*CompiledPolicy, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("policy id is required")
	}
	if !p.Action.Valid() {
		return nil, fmt.Errorf("policy %s: unknown action %q", p.ID, p.Action)
	}
	if p.Action == domain.ActionOverrideChannel && !p.Channel.Valid() {
		return nil, fmt.Errorf("policy %s: %s requires a valid channel", p.ID, p.Action)
	}

	ast, issues := e.env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", p.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", p.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", p.ID, err)
	}

	return &CompiledPolicy{
		Config:  p,
		Program: program,
	}, nil
}
