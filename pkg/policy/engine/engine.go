package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/rules/expr"
	"datum-hq/soe/pkg/rules/pack"
)

// Observer is told about every completed run. It must not influence the run.
type Observer interface {
	ObserveRun(industry string, decisions int, blocked bool, warnings int, duration time.Duration)
}

// Engine evaluates rule packs into policy runs. It holds no per-run state and
// is safe for concurrent use.
type Engine struct {
	// config contains engine configuration
	config *Config

	// packs provides rule packs and industry profiles
	packs pack.Repository

	// resolver resolves profile stacks; nil when no profile repository is
	// configured
	resolver *profile.Resolver

	// evaluator interprets rule conditions
	evaluator *expr.Evaluator

	// observer receives run statistics, may be nil
	observer Observer

	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithObserver sets the run observer, typically the metrics collector.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New creates a policy engine. profiles may be nil, in which case requests
// naming a profile stack are evaluated against the industry defaults.
func New(config *Config, packs pack.Repository, profiles profile.Repository, opts ...Option) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if packs == nil {
		return nil, fmt.Errorf("pack repository cannot be nil")
	}

	e := &Engine{
		config: config,
		packs:  packs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if profiles != nil {
		e.resolver = profile.NewResolver(profiles, e.logger)
	}
	e.evaluator = expr.NewEvaluator(e.logger)
	e.logger = e.logger.With("component", "policy.engine")
	return e, nil
}

// Run evaluates every applicable rule against the request context.
func (e *Engine) Run(ctx context.Context, req *Request) (*PolicyRun, error) {
	start := time.Now()

	if req == nil || req.IndustryProfile == "" {
		return nil, ErrIndustryProfileRequired
	}
	industry, err := e.packs.LoadIndustryProfile(ctx, req.IndustryProfile)
	if err != nil {
		return nil, &RunError{IndustryProfile: req.IndustryProfile, Message: "failed to load industry profile", Cause: err}
	}

	run := &PolicyRun{
		SOEVersion:       e.config.SOEVersion,
		IndustryProfile:  req.IndustryProfile,
		HardwareClass:    req.HardwareClass,
		Inputs:           req.Inputs,
		Decisions:        []Decision{},
		RequiredEvidence: []EvidenceRequirement{},
		CostModifiers:    []CostModifier{},
	}

	stack, warnings := e.resolveStack(ctx, req.ActiveProfiles)
	run.Warnings = append(run.Warnings, warnings...)

	run.ActivePacks = activePacks(profile.Packs(stack), industry.DefaultPacks, req.AdditionalPacks)
	sources := profile.PackSources(stack)
	evalCtx := buildContext(req)

	for _, packID := range run.ActivePacks {
		if err := ctx.Err(); err != nil {
			return nil, &RunError{IndustryProfile: req.IndustryProfile, Message: "run cancelled", Cause: err}
		}

		rp, err := e.packs.LoadPack(ctx, packID)
		if err != nil {
			msg := fmt.Sprintf("failed to load pack %s: %v", packID, err)
			e.logger.Warn("skipping rule pack", "pack_id", packID, "error", err)
			run.Warnings = append(run.Warnings, msg)
			continue
		}

		for i := range rp.Rules {
			rule := &rp.Rules[i]
			if !rule.Applies.Matches(req.IndustryProfile, req.HardwareClass) {
				continue
			}
			if !e.evaluator.Evaluate(rule.When, evalCtx) {
				continue
			}

			d := newDecision(rule, packID, req.IndustryProfile, req.HardwareClass)
			if layer, ok := sources[packID]; ok {
				tagDecision(&d, stack[layer], layer)
			}
			run.Decisions = append(run.Decisions, d)
		}
	}

	run.Gates = deriveGates(run.Decisions)
	run.RequiredEvidence = deriveEvidence(run.Decisions, industry)
	run.CostModifiers = deriveCostModifiers(run.Decisions)

	if len(stack) > 0 {
		for i, p := range stack {
			run.ActiveProfiles = append(run.ActiveProfiles, p.ID)
			run.ProfileStack = append(run.ProfileStack, StackEntry{
				ProfileID:   p.ID,
				ProfileType: p.Type,
				Name:        p.Name,
				Layer:       i,
			})
		}
	}

	blocked := run.ReleaseGate().Blocked()
	duration := time.Since(start)
	if e.observer != nil {
		e.observer.ObserveRun(req.IndustryProfile, len(run.Decisions), blocked, len(run.Warnings), duration)
	}
	e.logger.Info("policy run completed",
		"industry_profile", req.IndustryProfile,
		"hardware_class", req.HardwareClass,
		"active_packs", len(run.ActivePacks),
		"decisions", len(run.Decisions),
		"release_blocked", blocked,
		"warnings", len(run.Warnings),
		"duration", duration,
	)

	return run, nil
}

// resolveStack resolves the requested profiles. Any resolution error, any
// profile that may not be used and any inheritance conflict makes the whole
// stack unusable; the problems come back as warnings and the run continues on
// industry defaults.
func (e *Engine) resolveStack(ctx context.Context, ids []string) ([]*profile.Profile, []string) {
	if len(ids) == 0 {
		return nil, nil
	}
	if e.resolver == nil {
		return nil, []string{"profile stack ignored: no profile repository configured"}
	}

	var problems []error
	stack, errs := e.resolver.Resolve(ctx, ids)
	problems = append(problems, errs...)
	for _, p := range stack {
		if err := profile.CheckUsable(p, e.config.AllowDraftProfiles); err != nil {
			problems = append(problems, err)
		}
	}
	if len(problems) == 0 {
		if _, err := profile.Flatten(stack); err != nil {
			problems = append(problems, err)
		}
	}

	if len(problems) == 0 {
		return stack, nil
	}

	warnings := make([]string, 0, len(problems)+1)
	for _, err := range problems {
		warnings = append(warnings, "profile stack: "+err.Error())
	}
	warnings = append(warnings, "profile stack ignored; using industry default packs")
	e.logger.Warn("profile stack rejected, falling back to industry defaults",
		"profiles", ids,
		"problems", len(problems),
	)
	return nil, warnings
}

// activePacks returns the sorted union of the given pack id lists.
func activePacks(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// buildContext merges industry profile and hardware class with the inputs.
// Inputs win on key collisions.
func buildContext(req *Request) expr.Context {
	ctx := make(expr.Context, len(req.Inputs)+2)
	ctx["industry_profile"] = req.IndustryProfile
	if req.HardwareClass != "" {
		ctx["hardware_class"] = req.HardwareClass
	}
	for k, v := range req.Inputs {
		ctx[k] = v
	}
	return ctx
}
