package manifest

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/kernel"
)

//go:embed schema.cue
var schemaCUE string

// EpochUnset marks a scripted event that did not pin an epoch; the run
// loop substitutes the kernel's current epoch at submission time.
const EpochUnset int64 = -1

// Manifest is a validated run script: the frozen budget plus the exact
// event batches to submit, in order.
type Manifest struct {
	Name      string
	GasBudget int64 // 0: use the kernel default
	Batches   [][]*ir.Event
}

// Error is a manifest validation error with CUE source position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads, schema-checks, and decodes a manifest from path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Load(data, path)
}

// Load schema-checks and decodes manifest source. The schema is unified
// with the document, so structural violations surface as CUE errors
// with positions before any event is built.
func Load(src []byte, filename string) (*Manifest, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("manifest schema: %w", err)
	}
	doc := ctx.CompileBytes(src, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	return decode(unified.LookupPath(cue.ParsePath("manifest")))
}

func decode(v cue.Value) (*Manifest, error) {
	if !v.Exists() {
		return nil, &Error{Field: "manifest", Message: "manifest block is required"}
	}

	m := &Manifest{}
	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.Name = name

	if budgetVal := v.LookupPath(cue.ParsePath("gas_budget")); budgetVal.Exists() {
		budget, err := budgetVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.GasBudget = budget
	}

	batchesVal := v.LookupPath(cue.ParsePath("batches"))
	batchIter, err := batchesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for batchIter.Next() {
		eventIter, err := batchIter.Value().List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var batch []*ir.Event
		for eventIter.Next() {
			ev, err := decodeEvent(eventIter.Value())
			if err != nil {
				return nil, err
			}
			batch = append(batch, ev)
		}
		m.Batches = append(m.Batches, batch)
	}
	return m, nil
}

func decodeEvent(v cue.Value) (*ir.Event, error) {
	kind, err := v.LookupPath(cue.ParsePath("kind")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	ev := &ir.Event{Kind: ir.EventKind(kind), Epoch: EpochUnset}
	switch ev.Kind {
	case ir.EventAuthorityInjection:
		draft, err := decodeDraft(v.LookupPath(cue.ParsePath("authority")))
		if err != nil {
			return nil, err
		}
		ev.Authority = draft

	case ir.EventEpochTick:
		target, err := v.LookupPath(cue.ParsePath("target_epoch")).Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ev.TargetEpoch = target
		ev.Epoch = 0

	case ir.EventTransformationRequest:
		if ev.RequesterHolderID, err = v.LookupPath(cue.ParsePath("requester_holder_id")).String(); err != nil {
			return nil, formatCUEError(err)
		}
		transformation, err := v.LookupPath(cue.ParsePath("transformation")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ev.Transformation = ir.Transformation(transformation)
		targets, err := decodeTargets(v.LookupPath(cue.ParsePath("targets")))
		if err != nil {
			return nil, err
		}
		ev.Targets = targets

	case ir.EventActionRequest:
		if ev.RequesterHolderID, err = v.LookupPath(cue.ParsePath("requester_holder_id")).String(); err != nil {
			return nil, formatCUEError(err)
		}
		action, err := decodeScope(v.LookupPath(cue.ParsePath("action")))
		if err != nil {
			return nil, err
		}
		ev.Action = action

	default:
		return nil, &Error{
			Field:   "kind",
			Message: fmt.Sprintf("unknown event kind %q", kind),
			Pos:     v.Pos(),
		}
	}

	if epochVal := v.LookupPath(cue.ParsePath("epoch")); epochVal.Exists() {
		epoch, err := epochVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ev.Epoch = epoch
	}
	return ev, nil
}

func decodeDraft(v cue.Value) (*ir.AuthorityDraft, error) {
	if !v.Exists() {
		return nil, &Error{Field: "authority", Message: "injection requires an authority draft"}
	}
	d := &ir.AuthorityDraft{}
	var err error
	if d.HolderID, err = v.LookupPath(cue.ParsePath("holder_id")).String(); err != nil {
		return nil, formatCUEError(err)
	}
	if d.Scope, err = decodeScope(v.LookupPath(cue.ParsePath("scope"))); err != nil {
		return nil, err
	}
	if d.StartEpoch, err = v.LookupPath(cue.ParsePath("start_epoch")).Int64(); err != nil {
		return nil, formatCUEError(err)
	}
	if expVal := v.LookupPath(cue.ParsePath("expiry_epoch")); expVal.Exists() {
		exp, err := expVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d.ExpiryEpoch = &exp
	}
	if permsVal := v.LookupPath(cue.ParsePath("permitted_transformations")); permsVal.Exists() {
		iter, err := permsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			d.PermittedTransformations = append(d.PermittedTransformations, ir.Transformation(s))
		}
	}
	return d, nil
}

func decodeTargets(v cue.Value) (*ir.TransformTargets, error) {
	t := &ir.TransformTargets{}
	if !v.Exists() {
		return t, nil
	}
	if idVal := v.LookupPath(cue.ParsePath("authority_id")); idVal.Exists() {
		id, err := idVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		t.AuthorityID = id
	}
	if idVal := v.LookupPath(cue.ParsePath("conflict_id")); idVal.Exists() {
		id, err := idVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		t.ConflictID = id
	}
	if revokeVal := v.LookupPath(cue.ParsePath("revoke_authority_ids")); revokeVal.Exists() {
		iter, err := revokeVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			id, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			t.RevokeAuthorityIDs = append(t.RevokeAuthorityIDs, id)
		}
	}
	if scopeVal := v.LookupPath(cue.ParsePath("narrowed_scope")); scopeVal.Exists() {
		scope, err := decodeScope(scopeVal)
		if err != nil {
			return nil, err
		}
		t.NarrowedScope = scope
	}
	return t, nil
}

func decodeScope(v cue.Value) ([]ir.ScopeElement, error) {
	if !v.Exists() {
		return nil, &Error{Field: "scope", Message: "scope is required"}
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var scope []ir.ScopeElement
	for iter.Next() {
		elemVal := iter.Value()
		resource, err := elemVal.LookupPath(cue.ParsePath("resource")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		operation, err := elemVal.LookupPath(cue.ParsePath("operation")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		scope = append(scope, ir.ScopeElement{Resource: resource, Operation: operation})
	}
	return scope, nil
}

// KernelOptions translates the manifest into kernel construction
// options.
func (m *Manifest) KernelOptions() []kernel.Option {
	var opts []kernel.Option
	if m.GasBudget > 0 {
		opts = append(opts, kernel.WithGasBudget(m.GasBudget))
	}
	return opts
}

// formatCUEError extracts position info from CUE errors, first error
// wins.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
