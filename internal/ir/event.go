package ir

import (
	"fmt"
)

// EventKind tags the four canonical event variants. The sequencer is
// ignorant of kinds: no kind enjoys ordering priority.
type EventKind string

const (
	EventAuthorityInjection    EventKind = "AUTHORITY_INJECTION"
	EventEpochTick             EventKind = "EPOCH_TICK"
	EventTransformationRequest EventKind = "TRANSFORMATION_REQUEST"
	EventActionRequest         EventKind = "ACTION_REQUEST"
)

// AuthorityDraft is the payload of an AuthorityInjection: an authority
// as proposed by the external issuer, before the kernel assigns an
// identity and origin.
type AuthorityDraft struct {
	HolderID                 string
	Scope                    []ScopeElement
	StartEpoch               int64
	ExpiryEpoch              *int64
	PermittedTransformations []Transformation
}

func (d *AuthorityDraft) canonical() Object {
	obj := Object{
		"holder_id":   String(d.HolderID),
		"scope":       scopeCanonical(d.Scope),
		"start_epoch": Int(d.StartEpoch),
	}
	if d.ExpiryEpoch != nil {
		obj["expiry_epoch"] = Int(*d.ExpiryEpoch)
	}
	perms := make([]string, len(d.PermittedTransformations))
	for i, t := range d.PermittedTransformations {
		perms[i] = string(t)
	}
	obj["permitted_transformations"] = sortedStringArray(perms)
	return obj
}

// TransformTargets names what a TransformationRequest operates on.
// Exactly the fields relevant to the requested transformation are set.
type TransformTargets struct {
	// AuthorityID is the target authority for SUSPEND, RESUME,
	// REVOKE, and NARROW_SCOPE.
	AuthorityID string

	// ConflictID is the target conflict for RESOLVE_CONFLICT.
	ConflictID string

	// RevokeAuthorityIDs names the participants RESOLVE_CONFLICT
	// revokes. Must be non-empty: resolution is strictly destructive.
	RevokeAuthorityIDs []string

	// NarrowedScope is the replacement scope for NARROW_SCOPE. Must be
	// a non-empty strict subset of the target's current scope.
	NarrowedScope []ScopeElement
}

func (t *TransformTargets) canonical() Object {
	obj := Object{}
	if t.AuthorityID != "" {
		obj["authority_id"] = String(t.AuthorityID)
	}
	if t.ConflictID != "" {
		obj["conflict_id"] = String(t.ConflictID)
	}
	if len(t.RevokeAuthorityIDs) > 0 {
		obj["revoke_authority_ids"] = sortedStringArray(t.RevokeAuthorityIDs)
	}
	if len(t.NarrowedScope) > 0 {
		obj["narrowed_scope"] = scopeCanonical(t.NarrowedScope)
	}
	return obj
}

// Event is the tagged union of the four canonical event kinds. Exactly
// one payload group is populated, selected by Kind. The identity is
// computed over the canonical content excluding the identity itself.
type Event struct {
	ID    string
	Kind  EventKind
	Epoch int64

	// AUTHORITY_INJECTION
	Authority *AuthorityDraft

	// EPOCH_TICK
	TargetEpoch int64

	// TRANSFORMATION_REQUEST and ACTION_REQUEST
	RequesterHolderID string

	// TRANSFORMATION_REQUEST
	Transformation Transformation
	Targets        *TransformTargets

	// ACTION_REQUEST: the atomic elements the action touches.
	Action []ScopeElement
}

// Canonical lowers the event to the canonical value domain, excluding
// the identity field.
func (e *Event) Canonical() (Object, error) {
	obj := Object{"kind": String(e.Kind)}

	switch e.Kind {
	case EventAuthorityInjection:
		if e.Authority == nil {
			return nil, fmt.Errorf("injection event missing authority draft")
		}
		obj["epoch"] = Int(e.Epoch)
		obj["authority"] = e.Authority.canonical()

	case EventEpochTick:
		obj["target_epoch"] = Int(e.TargetEpoch)

	case EventTransformationRequest:
		if e.Targets == nil {
			return nil, fmt.Errorf("transformation event missing targets")
		}
		obj["epoch"] = Int(e.Epoch)
		obj["requester_holder_id"] = String(e.RequesterHolderID)
		obj["transformation"] = String(e.Transformation)
		obj["targets"] = e.Targets.canonical()

	case EventActionRequest:
		if len(e.Action) == 0 {
			return nil, fmt.Errorf("action event with empty action")
		}
		obj["epoch"] = Int(e.Epoch)
		obj["requester_holder_id"] = String(e.RequesterHolderID)
		obj["action"] = scopeCanonical(e.Action)

	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}

	return obj, nil
}

// Seal computes and stores the event's content-derived identity.
// Returns the canonical bytes the identity was computed over.
func (e *Event) Seal() ([]byte, error) {
	obj, err := e.Canonical()
	if err != nil {
		return nil, err
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return nil, err
	}
	e.ID = PrefixEvent + "-" + HashWithDomain(DomainEvent, canonical)
	return canonical, nil
}

// DecodeEvent rebuilds an Event from its canonical bytes and reseals
// it. Used by the replay verifier; the recomputed identity necessarily
// matches any identity minted from the same bytes.
func DecodeEvent(canonical []byte) (*Event, error) {
	val, err := DecodeValue(canonical)
	if err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	obj, ok := val.(Object)
	if !ok {
		return nil, fmt.Errorf("decode event: not an object")
	}

	e := &Event{Kind: EventKind(getString(obj, "kind"))}
	switch e.Kind {
	case EventAuthorityInjection:
		e.Epoch = getInt(obj, "epoch")
		draft, err := decodeDraft(obj["authority"])
		if err != nil {
			return nil, err
		}
		e.Authority = draft

	case EventEpochTick:
		e.TargetEpoch = getInt(obj, "target_epoch")

	case EventTransformationRequest:
		e.Epoch = getInt(obj, "epoch")
		e.RequesterHolderID = getString(obj, "requester_holder_id")
		e.Transformation = Transformation(getString(obj, "transformation"))
		targets, err := decodeTargets(obj["targets"])
		if err != nil {
			return nil, err
		}
		e.Targets = targets

	case EventActionRequest:
		e.Epoch = getInt(obj, "epoch")
		e.RequesterHolderID = getString(obj, "requester_holder_id")
		action, err := decodeScope(obj["action"])
		if err != nil {
			return nil, err
		}
		e.Action = action

	default:
		return nil, fmt.Errorf("decode event: unknown kind %q", e.Kind)
	}

	if _, err := e.Seal(); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeDraft(v Value) (*AuthorityDraft, error) {
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("decode draft: not an object")
	}
	scope, err := decodeScope(obj["scope"])
	if err != nil {
		return nil, err
	}
	d := &AuthorityDraft{
		HolderID:   getString(obj, "holder_id"),
		Scope:      scope,
		StartEpoch: getInt(obj, "start_epoch"),
	}
	if exp, ok := obj["expiry_epoch"].(Int); ok {
		v := int64(exp)
		d.ExpiryEpoch = &v
	}
	for _, s := range getStrings(obj, "permitted_transformations") {
		d.PermittedTransformations = append(d.PermittedTransformations, Transformation(s))
	}
	return d, nil
}

func decodeTargets(v Value) (*TransformTargets, error) {
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("decode targets: not an object")
	}
	t := &TransformTargets{
		AuthorityID:        getString(obj, "authority_id"),
		ConflictID:         getString(obj, "conflict_id"),
		RevokeAuthorityIDs: getStrings(obj, "revoke_authority_ids"),
	}
	if _, present := obj["narrowed_scope"]; present {
		scope, err := decodeScope(obj["narrowed_scope"])
		if err != nil {
			return nil, err
		}
		t.NarrowedScope = scope
	}
	return t, nil
}

func decodeScope(v Value) ([]ScopeElement, error) {
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("decode scope: not an array")
	}
	scope := make([]ScopeElement, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(Object)
		if !ok {
			return nil, fmt.Errorf("decode scope[%d]: not an object", i)
		}
		scope[i] = ScopeElement{
			Resource:  getString(obj, "resource"),
			Operation: getString(obj, "operation"),
		}
	}
	return scope, nil
}

func getString(obj Object, key string) string {
	if s, ok := obj[key].(String); ok {
		return string(s)
	}
	return ""
}

func getInt(obj Object, key string) int64 {
	if n, ok := obj[key].(Int); ok {
		return int64(n)
	}
	return 0
}

func getStrings(obj Object, key string) []string {
	arr, ok := obj[key].(Array)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(String); ok {
			out = append(out, string(s))
		}
	}
	return out
}
