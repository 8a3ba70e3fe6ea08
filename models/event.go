package models

// StatusEvent records one QC status transition together with the code that
// caused it. Events are append-only so external monitoring can reconstruct
// the full causal history of a QC.
type StatusEvent struct {
	ID        string        `json:"id"`
	QCID      string        `json:"qc_id"`
	OldStatus QCStatus      `json:"old_status"`
	NewStatus QCStatus      `json:"new_status"`
	Code      ViolationCode `json:"code,omitempty"` // empty for governance moves
	Reason    string        `json:"reason,omitempty"`
	At        int64         `json:"at"` // unix millis
}
