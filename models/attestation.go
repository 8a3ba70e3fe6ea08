package models

// Attestation is one attester's latest balance report for a QC.
// Latest-report-wins: a new submission overwrites the prior one.
type Attestation struct {
	AttesterID string `json:"attester_id"`
	QCID       string `json:"qc_id"`
	Balance    uint64 `json:"balance"`
	Timestamp  int64  `json:"timestamp"` // unix millis, per the attester
}

// ConsensusReading is the oracle's aggregated balance figure. It is the only
// reserve value other components may read; raw attestations are never trusted
// individually.
type ConsensusReading struct {
	QCID          string `json:"qc_id"`
	Value         uint64 `json:"value"`
	ComputedAt    int64  `json:"computed_at"` // unix millis
	AttesterCount int    `json:"attester_count"`
}
