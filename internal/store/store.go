package store

import (
	"fmt"
	"slices"

	"github.com/mandate-sh/mandate/internal/ir"
)

// Records is identity-keyed storage for authority and conflict
// records. Replacement installs a fresh immutable version; a reader
// holding a previously returned record never observes the change.
type Records struct {
	authorities map[string]*ir.AuthorityRecord
	conflicts   map[string]*ir.ConflictRecord
}

// NewRecords creates empty record storage.
func NewRecords() *Records {
	return &Records{
		authorities: make(map[string]*ir.AuthorityRecord),
		conflicts:   make(map[string]*ir.ConflictRecord),
	}
}

// InsertAuthority stores a new authority record. Identity reuse is a
// kernel defect, never a legitimate runtime condition.
func (r *Records) InsertAuthority(rec *ir.AuthorityRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("insert authority: empty identity")
	}
	if _, exists := r.authorities[rec.ID]; exists {
		return fmt.Errorf("insert authority: identity %s already in use", rec.ID)
	}
	r.authorities[rec.ID] = rec
	return nil
}

// Authority returns the current version of an authority record.
func (r *Records) Authority(id string) (*ir.AuthorityRecord, bool) {
	rec, ok := r.authorities[id]
	return rec, ok
}

// ReplaceAuthority installs a new version for an existing identity.
func (r *Records) ReplaceAuthority(rec *ir.AuthorityRecord) error {
	if _, exists := r.authorities[rec.ID]; !exists {
		return fmt.Errorf("replace authority: unknown identity %s", rec.ID)
	}
	r.authorities[rec.ID] = rec
	return nil
}

// Authorities returns every authority record in unspecified order.
// Callers must not let this order influence a decision.
func (r *Records) Authorities() []*ir.AuthorityRecord {
	out := make([]*ir.AuthorityRecord, 0, len(r.authorities))
	for _, rec := range r.authorities {
		out = append(out, rec)
	}
	return out
}

// AuthorityCount returns the number of stored authority records,
// including terminal ones retained for audit.
func (r *Records) AuthorityCount() int { return len(r.authorities) }

// InsertConflict stores a new conflict record.
func (r *Records) InsertConflict(rec *ir.ConflictRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("insert conflict: empty identity")
	}
	if _, exists := r.conflicts[rec.ID]; exists {
		return fmt.Errorf("insert conflict: identity %s already in use", rec.ID)
	}
	r.conflicts[rec.ID] = rec
	return nil
}

// Conflict returns the current version of a conflict record.
func (r *Records) Conflict(id string) (*ir.ConflictRecord, bool) {
	rec, ok := r.conflicts[id]
	return rec, ok
}

// ReplaceConflict installs a new version for an existing identity.
func (r *Records) ReplaceConflict(rec *ir.ConflictRecord) error {
	if _, exists := r.conflicts[rec.ID]; !exists {
		return fmt.Errorf("replace conflict: unknown identity %s", rec.ID)
	}
	r.conflicts[rec.ID] = rec
	return nil
}

// Conflicts returns every conflict record in unspecified order.
func (r *Records) Conflicts() []*ir.ConflictRecord {
	out := make([]*ir.ConflictRecord, 0, len(r.conflicts))
	for _, rec := range r.conflicts {
		out = append(out, rec)
	}
	return out
}

// OpenConflicts returns every OPEN conflict in unspecified order.
func (r *Records) OpenConflicts() []*ir.ConflictRecord {
	var out []*ir.ConflictRecord
	for _, rec := range r.conflicts {
		if rec.Status == ir.ConflictOpen {
			out = append(out, rec)
		}
	}
	return out
}

// sortedAuthorityIDs and sortedConflictIDs exist for the serialization
// boundary only.
func (r *Records) sortedAuthorityIDs() []string {
	ids := make([]string, 0, len(r.authorities))
	for id := range r.authorities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Records) sortedConflictIDs() []string {
	ids := make([]string, 0, len(r.conflicts))
	for id := range r.conflicts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
