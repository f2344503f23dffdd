package harness

import (
	"math/rand"
	"slices"

	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/store"
)

// TrafficConfig parameterizes the synthetic traffic generator.
type TrafficConfig struct {
	Seed       int64
	Holders    []string
	Resources  []string
	Operations []string

	// Per-kind weights; zero disables the kind.
	InjectWeight    int
	TickWeight      int
	TransformWeight int
	ActionWeight    int

	// MaxBatch caps events per generated batch; minimum 1.
	MaxBatch int
}

// Traffic generates event batches from a seeded source. Identical
// config plus identical state reads produce identical batches, so two
// kernels fed by two generators with the same seed stay in lockstep.
// That is the determinism property under test, exercised from outside
// the kernel boundary.
type Traffic struct {
	cfg TrafficConfig
	rng *rand.Rand
}

// NewTraffic creates a generator from the config's seed.
func NewTraffic(cfg TrafficConfig) *Traffic {
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 1
	}
	return &Traffic{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// NextBatch generates one batch against the given state. The state is
// only read through sorted views; map iteration order never reaches the
// random stream.
func (t *Traffic) NextBatch(st *store.State) []*ir.Event {
	n := 1 + t.rng.Intn(t.cfg.MaxBatch)
	batch := make([]*ir.Event, 0, n)
	seen := make(map[string]bool, n)
	ticked := false
	for range n {
		ev := t.nextEvent(st, &ticked)
		if ev == nil {
			continue
		}
		// A byte-identical duplicate would invalidate the run; the
		// generator's job is traffic, not protocol violations.
		obj, err := ev.Canonical()
		if err != nil {
			continue
		}
		canonical, err := ir.MarshalCanonical(obj)
		if err != nil {
			continue
		}
		if seen[string(canonical)] {
			continue
		}
		seen[string(canonical)] = true
		batch = append(batch, ev)
	}
	if len(batch) == 0 {
		batch = append(batch, t.injection(st))
	}
	return batch
}

func (t *Traffic) nextEvent(st *store.State, ticked *bool) *ir.Event {
	total := t.cfg.InjectWeight + t.cfg.TickWeight + t.cfg.TransformWeight + t.cfg.ActionWeight
	if total == 0 {
		return nil
	}
	pick := t.rng.Intn(total)

	if pick < t.cfg.InjectWeight {
		return t.injection(st)
	}
	pick -= t.cfg.InjectWeight

	if pick < t.cfg.TickWeight {
		// One tick per batch at most; a second would be an epoch
		// discontinuity once the first applies.
		if *ticked {
			return t.action(st)
		}
		*ticked = true
		return &ir.Event{Kind: ir.EventEpochTick, TargetEpoch: st.Epoch() + 1}
	}
	pick -= t.cfg.TickWeight

	if pick < t.cfg.TransformWeight {
		return t.transformation(st)
	}
	return t.action(st)
}

func (t *Traffic) injection(st *store.State) *ir.Event {
	elems := 1 + t.rng.Intn(2)
	scope := make([]ir.ScopeElement, 0, elems)
	seen := make(map[string]bool, elems)
	for len(scope) < elems {
		e := t.scopeElement()
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		scope = append(scope, e)
	}

	draft := &ir.AuthorityDraft{
		HolderID:   t.pick(t.cfg.Holders),
		Scope:      scope,
		StartEpoch: st.Epoch(),
	}
	if t.rng.Intn(4) == 0 {
		exp := st.Epoch() + int64(1+t.rng.Intn(5))
		draft.ExpiryEpoch = &exp
	}
	for _, tr := range ir.ExternalTransformations {
		if t.rng.Intn(3) == 0 {
			draft.PermittedTransformations = append(draft.PermittedTransformations, tr)
		}
	}
	return &ir.Event{
		Kind:      ir.EventAuthorityInjection,
		Epoch:     st.Epoch(),
		Authority: draft,
	}
}

func (t *Traffic) transformation(st *store.State) *ir.Event {
	targets := sortedAuthorityIDs(st)
	if len(targets) == 0 {
		return t.injection(st)
	}
	ops := []ir.Transformation{
		ir.TransformSuspend, ir.TransformResume,
		ir.TransformRevoke, ir.TransformNarrowScope,
	}
	return &ir.Event{
		Kind:              ir.EventTransformationRequest,
		Epoch:             st.Epoch(),
		RequesterHolderID: t.pick(t.cfg.Holders),
		Transformation:    ops[t.rng.Intn(len(ops))],
		Targets: &ir.TransformTargets{
			AuthorityID: targets[t.rng.Intn(len(targets))],
		},
	}
}

func (t *Traffic) action(st *store.State) *ir.Event {
	return &ir.Event{
		Kind:              ir.EventActionRequest,
		Epoch:             st.Epoch(),
		RequesterHolderID: t.pick(t.cfg.Holders),
		Action:            []ir.ScopeElement{t.scopeElement()},
	}
}

func (t *Traffic) scopeElement() ir.ScopeElement {
	return ir.ScopeElement{
		Resource:  t.pick(t.cfg.Resources),
		Operation: t.pick(t.cfg.Operations),
	}
}

func (t *Traffic) pick(vals []string) string {
	return vals[t.rng.Intn(len(vals))]
}

func sortedAuthorityIDs(st *store.State) []string {
	records := st.Records().Authorities()
	ids := make([]string, 0, len(records))
	for _, a := range records {
		ids = append(ids, a.ID)
	}
	slices.Sort(ids)
	return ids
}
