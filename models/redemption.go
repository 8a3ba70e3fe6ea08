package models

// RedemptionStatus is the lifecycle state of a redemption request.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "PENDING"
	RedemptionCompleted RedemptionStatus = "COMPLETED"
	RedemptionDefaulted RedemptionStatus = "DEFAULTED"
)

// Redemption tracks a holder's request to redeem wrapped tokens against a
// QC's reserves. The burn itself is handled by the token layer; this record
// only carries what the timeout check needs.
type Redemption struct {
	ID          string           `json:"id"`
	QCID        string           `json:"qc_id"`
	Amount      uint64           `json:"amount"`
	Status      RedemptionStatus `json:"status"`
	RequestedAt int64            `json:"requested_at"` // unix millis
}
