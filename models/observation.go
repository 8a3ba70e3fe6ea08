package models

// MaxEvidenceHashes bounds the evidence array on an observation. Evidence is
// referenced by content hash; raw bytes live off-system.
const MaxEvidenceHashes = 20

// Category classifies a watchdog observation. Severity is inferred from the
// category, not from a self-assigned severity field.
type Category string

const (
	CategorySuspiciousPattern   Category = "SUSPICIOUS_PATTERN"
	CategoryOperationalConcern  Category = "OPERATIONAL_CONCERN"
	CategoryUnusualBehavior     Category = "UNUSUAL_BEHAVIOR"
	CategoryComplianceQuestion  Category = "COMPLIANCE_QUESTION"
	CategorySecurityObservation Category = "SECURITY_OBSERVATION"
	CategoryGeneralConcern      Category = "GENERAL_CONCERN"
)

// IsValid reports whether the category is one of the closed set.
func (c Category) IsValid() bool {
	switch c {
	case CategorySuspiciousPattern, CategoryOperationalConcern,
		CategoryUnusualBehavior, CategoryComplianceQuestion,
		CategorySecurityObservation, CategoryGeneralConcern:
		return true
	}
	return false
}

// EscalationThreshold is the number of supporters (excluding the reporter)
// required before an observation in this category escalates to governance.
// Security observations escalate on the first report.
func (c Category) EscalationThreshold() int {
	switch c {
	case CategorySecurityObservation:
		return 0
	case CategoryComplianceQuestion, CategorySuspiciousPattern:
		return 1
	case CategoryOperationalConcern, CategoryUnusualBehavior:
		return 2
	default:
		return 3
	}
}

// Resolution is governance's disposition of an observation. It moves only out
// of UNRESOLVED, never back into it.
type Resolution string

const (
	ResolutionUnresolved     Resolution = "UNRESOLVED"
	ResolutionUnderReview    Resolution = "UNDER_REVIEW"
	ResolutionActionTaken    Resolution = "ACTION_TAKEN"
	ResolutionNoActionNeeded Resolution = "NO_ACTION_NEEDED"
	ResolutionFalseReport    Resolution = "FALSE_REPORT"
)

// IsTerminal reports whether the resolution is a final governance disposition.
func (r Resolution) IsTerminal() bool {
	return r == ResolutionActionTaken || r == ResolutionNoActionNeeded || r == ResolutionFalseReport
}

// Observation is a subjective report by a registered watchdog about a QC.
// Immutable once created except for supporters, the escalated flag, the
// resolution, and the governance fields attached to them.
type Observation struct {
	ID             string     `json:"id"`
	ReporterID     string     `json:"reporter_id"`
	TargetQC       string     `json:"target_qc"`
	Category       Category   `json:"category"`
	Description    string     `json:"description"`
	EvidenceHashes []string   `json:"evidence_hashes"`
	CreatedAt      int64      `json:"created_at"` // unix millis
	Supporters     []string   `json:"supporters"`
	Escalated      bool       `json:"escalated"` // once true, never reverts
	Resolution     Resolution `json:"resolution"`
	ProposalID     string     `json:"proposal_id,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// HasSupporter reports whether the reporter already supports the observation.
func (o *Observation) HasSupporter(reporterID string) bool {
	for _, s := range o.Supporters {
		if s == reporterID {
			return true
		}
	}
	return false
}
