package domain

import "github.com/google/uuid"

// SkipReason is the machine-readable reason a sync left a row untouched.
type SkipReason string

const (
	SkipReasonExcluded         SkipReason = "excluded"
	SkipReasonUserModified     SkipReason = "user_modified"
	SkipReasonImportLocked     SkipReason = "import_locked"
	SkipReasonProviderConflict SkipReason = "provider_conflict"
	SkipReasonSuperseded       SkipReason = "superseded"
)

// ProtectionReason returns why automated sync may not mutate the entry, or
// "" when it may. Excluded wins over user edits, which win over import locks.
func (e *Entry) ProtectionReason() SkipReason {
	switch {
	case e.Excluded:
		return SkipReasonExcluded
	case e.UserModified:
		return SkipReasonUserModified
	case e.ImportLocked:
		return SkipReasonImportLocked
	default:
		return ""
	}
}

// SkipEvent reports a record that a reconciler deliberately did not apply.
type SkipEvent struct {
	RecordType string
	ExternalID string
	Source     string
	RowID      uuid.UUID
	Reason     SkipReason
	Detail     string
}
