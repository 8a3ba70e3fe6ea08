package models

// QCStatus is the lifecycle state of a qualified custodian.
type QCStatus string

const (
	QCActive      QCStatus = "ACTIVE"
	QCUnderReview QCStatus = "UNDER_REVIEW"
	QCRevoked     QCStatus = "REVOKED" // terminal
)

// ViolationCode identifies the objective rule an enforcement check tripped.
type ViolationCode string

const (
	ViolationStaleAttestation     ViolationCode = "STALE_ATTESTATION"
	ViolationZeroReserves         ViolationCode = "ZERO_RESERVES"
	ViolationInsufficientReserves ViolationCode = "INSUFFICIENT_RESERVES"
	ViolationRedemptionTimeout    ViolationCode = "REDEMPTION_TIMEOUT"
	ViolationRepeatedFailures     ViolationCode = "REPEATED_FAILURES"
	ViolationQCInactive           ViolationCode = "QC_INACTIVE"
)

// QC is a qualified custodian: an issuer minting wrapped tokens against
// off-chain reserves it controls.
type QC struct {
	ID                 string        `json:"id"`
	Status             QCStatus      `json:"status"`
	MintingCapacity    uint64        `json:"minting_capacity"`
	MintedAmount       uint64        `json:"minted_amount"`
	RegisteredAt       int64         `json:"registered_at"` // unix millis
	LastViolation      ViolationCode `json:"last_violation,omitempty"`
	RecentFailures     int           `json:"recent_failures"`
	FailureWindowStart int64         `json:"failure_window_start"`
	LastActivityAt     int64         `json:"last_activity_at"`
}

// CanTransitionTo reports whether the status state machine allows the move.
// REVOKED is terminal; everything else is reachable per the lifecycle rules.
func (s QCStatus) CanTransitionTo(next QCStatus) bool {
	switch s {
	case QCActive:
		return next == QCUnderReview || next == QCRevoked
	case QCUnderReview:
		return next == QCActive || next == QCRevoked
	default:
		return false
	}
}
