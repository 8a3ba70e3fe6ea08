package models

// WalletStatus is the lifecycle state of a custodian-controlled BTC wallet.
type WalletStatus string

const (
	WalletInactive              WalletStatus = "INACTIVE"
	WalletActive                WalletStatus = "ACTIVE"
	WalletPendingDeregistration WalletStatus = "PENDING_DEREGISTRATION"
)

// Wallet belongs to exactly one QC. A wallet is never ACTIVE under a
// revoked QC.
type Wallet struct {
	Address      string       `json:"address"`
	QCID         string       `json:"qc_id"`
	Status       WalletStatus `json:"status"`
	RegisteredAt int64        `json:"registered_at"` // unix millis
}
