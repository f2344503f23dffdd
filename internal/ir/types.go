package ir

import (
	"fmt"
	"slices"
	"strings"
)

// ScopeElement is the atomic unit of permission: one (resource,
// operation) pair. Admissibility is decided element by element with
// exact structural equality; there is no wildcarding or hierarchy.
type ScopeElement struct {
	Resource  string `json:"resource"`
	Operation string `json:"operation"`
}

// Key returns a stable composite key for map grouping. The unit
// separator cannot appear in canonical text fields that matter here,
// so the key is collision-free for practical inputs.
func (e ScopeElement) Key() string {
	return e.Resource + "\x1f" + e.Operation
}

// CompareScopeElements orders elements by (resource, operation) using
// UTF-16 code unit comparison, matching the canonical encoder. Used
// only at serialization and emission boundaries, never for decisions.
func CompareScopeElements(a, b ScopeElement) int {
	if c := compareUTF16(a.Resource, b.Resource); c != 0 {
		return c
	}
	return compareUTF16(a.Operation, b.Operation)
}

func (e ScopeElement) canonical() Object {
	return Object{
		"resource":  String(e.Resource),
		"operation": String(e.Operation),
	}
}

func scopeCanonical(scope []ScopeElement) Array {
	arr := make(Array, len(scope))
	for i, e := range scope {
		arr[i] = e.canonical()
	}
	return arr
}

// Status is an authority lifecycle state. Transitions happen only
// through the transformation whitelist, never by direct assignment.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusRevoked   Status = "REVOKED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether the status removes the authority from all
// future consideration. Terminal records are retained for audit.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// Transformation names an operation from the closed whitelist. The set
// is fixed at compile time; there is no runtime registration.
type Transformation string

const (
	TransformCreate          Transformation = "CREATE"
	TransformExpire          Transformation = "EXPIRE"
	TransformSuspend         Transformation = "SUSPEND"
	TransformResume          Transformation = "RESUME"
	TransformRevoke          Transformation = "REVOKE"
	TransformNarrowScope     Transformation = "NARROW_SCOPE"
	TransformResolveConflict Transformation = "RESOLVE_CONFLICT"
)

// ExternalTransformations are the whitelist entries a holder may be
// granted against other authorities. CREATE belongs to the external
// issuer and EXPIRE to the kernel itself, so neither is grantable.
var ExternalTransformations = []Transformation{
	TransformSuspend,
	TransformResume,
	TransformRevoke,
	TransformNarrowScope,
	TransformResolveConflict,
}

// IsGrantable reports whether t may appear in permitted_transformations.
func (t Transformation) IsGrantable() bool {
	return slices.Contains(ExternalTransformations, t)
}

// SystemActor is the log-attribution label for kernel-initiated
// transformations (automatic expiry, conflict registration, deadlock
// declaration). It is a label only: it has no storage slot, holds no
// permissions, and can never be a requester.
const SystemActor = "@system"

// AuthorityRecord is one scoped permission grant. Records are
// immutable versions: the transformation processor replaces a record
// rather than mutating it in place.
type AuthorityRecord struct {
	ID          string
	HolderID    string
	Origin      string // identity of the injection event that created it
	Scope       []ScopeElement
	Status      Status
	StartEpoch  int64
	ExpiryEpoch *int64 // nil: never expires

	// PermittedTransformations is the subset of the whitelist this
	// holder may invoke against other authorities.
	PermittedTransformations []Transformation

	// ConflictRefs lists conflict identities this authority
	// participates in. Membership is fixed at conflict detection.
	ConflictRefs []string
}

// Clone returns an independent copy. Replacement-based mutation relies
// on clones so that a reader holding the prior version never observes
// a change.
func (a *AuthorityRecord) Clone() *AuthorityRecord {
	c := *a
	c.Scope = slices.Clone(a.Scope)
	c.PermittedTransformations = slices.Clone(a.PermittedTransformations)
	c.ConflictRefs = slices.Clone(a.ConflictRefs)
	if a.ExpiryEpoch != nil {
		e := *a.ExpiryEpoch
		c.ExpiryEpoch = &e
	}
	return &c
}

// Covers reports whether the authority's scope contains every element
// of elems by exact structural equality.
func (a *AuthorityRecord) Covers(elems []ScopeElement) bool {
	for _, want := range elems {
		if !slices.Contains(a.Scope, want) {
			return false
		}
	}
	return true
}

// Permits reports whether the authority grants the transformation.
func (a *AuthorityRecord) Permits(t Transformation) bool {
	return slices.Contains(a.PermittedTransformations, t)
}

// Canonical lowers the record to the canonical value domain. The scope
// list keeps its documented order; permitted transformations and
// conflict refs are unordered sets and are sorted at this boundary.
func (a *AuthorityRecord) Canonical() Object {
	obj := Object{
		"authority_id": String(a.ID),
		"holder_id":    String(a.HolderID),
		"origin":       String(a.Origin),
		"scope":        scopeCanonical(a.Scope),
		"status":       String(a.Status),
		"start_epoch":  Int(a.StartEpoch),
	}
	if a.ExpiryEpoch != nil {
		obj["expiry_epoch"] = Int(*a.ExpiryEpoch)
	}

	perms := make([]string, len(a.PermittedTransformations))
	for i, t := range a.PermittedTransformations {
		perms[i] = string(t)
	}
	obj["permitted_transformations"] = sortedStringArray(perms)
	obj["conflict_refs"] = sortedStringArray(a.ConflictRefs)
	return obj
}

// Validate checks the structural invariants that hold for every
// authority version: non-empty scope, no duplicate scope elements,
// grantable permitted transformations, known status.
func (a *AuthorityRecord) Validate() error {
	if a.HolderID == "" {
		return fmt.Errorf("authority: holder_id is required")
	}
	if len(a.Scope) == 0 {
		return fmt.Errorf("authority: scope must be non-empty")
	}
	seen := make(map[string]bool, len(a.Scope))
	for _, e := range a.Scope {
		if e.Resource == "" || e.Operation == "" {
			return fmt.Errorf("authority: scope element must have resource and operation")
		}
		if seen[e.Key()] {
			return fmt.Errorf("authority: duplicate scope element (%s, %s)", e.Resource, e.Operation)
		}
		seen[e.Key()] = true
	}
	switch a.Status {
	case StatusActive, StatusSuspended, StatusRevoked, StatusExpired:
	default:
		return fmt.Errorf("authority: unknown status %q", a.Status)
	}
	for _, t := range a.PermittedTransformations {
		if !t.IsGrantable() {
			return fmt.Errorf("authority: %s is not a grantable transformation", t)
		}
	}
	if a.ExpiryEpoch != nil && *a.ExpiryEpoch < a.StartEpoch {
		return fmt.Errorf("authority: expiry_epoch %d before start_epoch %d", *a.ExpiryEpoch, a.StartEpoch)
	}
	return nil
}

// ConflictStatus is the lifecycle of a conflict record.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "OPEN"
	ConflictResolved ConflictStatus = "RESOLVED"
)

// ConflictRecord is a structural overlap of two or more ACTIVE
// authorities on the same atomic scope element. The participant set is
// semantically unordered; the canonical sort applied at serialization
// carries no priority.
type ConflictRecord struct {
	ID            string
	EpochDetected int64
	ScopeElements []ScopeElement
	AuthorityIDs  []string
	Status        ConflictStatus
}

// Clone returns an independent copy.
func (c *ConflictRecord) Clone() *ConflictRecord {
	cc := *c
	cc.ScopeElements = slices.Clone(c.ScopeElements)
	cc.AuthorityIDs = slices.Clone(c.AuthorityIDs)
	return &cc
}

// CoversElement reports whether the conflict contests elem.
func (c *ConflictRecord) CoversElement(elem ScopeElement) bool {
	return slices.Contains(c.ScopeElements, elem)
}

// Canonical lowers the record to the canonical value domain with both
// sets sorted. Excluding the identity field, this is also the content
// the conflict identity is computed over.
func (c *ConflictRecord) Canonical() Object {
	obj := c.identityContent()
	obj["conflict_id"] = String(c.ID)
	obj["status"] = String(c.Status)
	return obj
}

func (c *ConflictRecord) identityContent() Object {
	elems := slices.Clone(c.ScopeElements)
	slices.SortFunc(elems, CompareScopeElements)
	return Object{
		"epoch_detected": Int(c.EpochDetected),
		"scope_elements": scopeCanonical(elems),
		"authority_ids":  sortedStringArray(c.AuthorityIDs),
	}
}

// ComputeConflictID derives the deterministic conflict identity from
// detection epoch, contested elements, and participants.
func (c *ConflictRecord) ComputeConflictID() (string, error) {
	return Identity(PrefixConflict, DomainConflict, c.identityContent())
}

// KernelMode is the run phase recorded on the state object. Deadlock
// is terminal: once entered, the mode never changes for the remainder
// of the run.
type KernelMode struct {
	Phase    string       // "RUNNING" or "DEADLOCKED"
	Deadlock DeadlockKind // set only when Phase is "DEADLOCKED"
}

const (
	PhaseRunning    = "RUNNING"
	PhaseDeadlocked = "DEADLOCKED"
)

// Running reports whether the kernel still admits requests.
func (m KernelMode) Running() bool { return m.Phase == PhaseRunning }

// Canonical lowers the mode to the canonical value domain.
func (m KernelMode) Canonical() Value {
	if m.Phase == PhaseDeadlocked {
		return String(m.Phase + ":" + string(m.Deadlock))
	}
	return String(m.Phase)
}

// ParseKernelMode is the inverse of KernelMode.Canonical.
func ParseKernelMode(s string) (KernelMode, error) {
	if s == PhaseRunning {
		return KernelMode{Phase: PhaseRunning}, nil
	}
	if kind, ok := strings.CutPrefix(s, PhaseDeadlocked+":"); ok {
		return KernelMode{Phase: PhaseDeadlocked, Deadlock: DeadlockKind(kind)}, nil
	}
	return KernelMode{}, fmt.Errorf("unknown kernel mode %q", s)
}

// sortedStringArray lowers an unordered string set to a canonically
// sorted Array.
func sortedStringArray(vals []string) Array {
	sorted := slices.Clone(vals)
	slices.SortFunc(sorted, compareUTF16)
	arr := make(Array, len(sorted))
	for i, s := range sorted {
		arr[i] = String(s)
	}
	return arr
}
