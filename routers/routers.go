package routers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tlabs-xyz/tbtc-v2-sub017/handlers"
)

// RegisterRoutes sets up all the HTTP routes for the custody monitoring API
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Custodian lifecycle (registration and status moves are governance-gated)
	r.HandleFunc("/qcs", h.RegisterQC).Methods("POST")
	r.HandleFunc("/qcs/{id}", h.GetQC).Methods("GET")
	r.HandleFunc("/qcs/{id}/events", h.GetQCEvents).Methods("GET")
	r.HandleFunc("/qcs/{id}/suspend", h.SuspendQC).Methods("POST")
	r.HandleFunc("/qcs/{id}/recover", h.RecoverQC).Methods("POST")
	r.HandleFunc("/qcs/{id}/revoke", h.RevokeQC).Methods("POST")

	// Minted-amount accounting, driven by the token layer
	r.HandleFunc("/qcs/{id}/mint", h.Mint).Methods("POST")
	r.HandleFunc("/qcs/{id}/burn", h.Burn).Methods("POST")

	// Reserve oracle: attester-gated intake, trusted consensus out
	r.HandleFunc("/attestations", h.SubmitAttestation).Methods("POST")
	r.HandleFunc("/qcs/{id}/consensus", h.GetConsensus).Methods("GET")

	// Permissionless enforcement checks; anyone may trigger these
	r.HandleFunc("/qcs/{id}/checks/reserves", h.CheckReserveCompliance).Methods("POST")
	r.HandleFunc("/qcs/{id}/checks/operational", h.CheckOperationalCompliance).Methods("POST")
	r.HandleFunc("/redemptions/{id}/checks/timeout", h.CheckRedemptionTimeout).Methods("POST")

	// Redemption intake
	r.HandleFunc("/redemptions", h.RequestRedemption).Methods("POST")

	// Wallet lifecycle
	r.HandleFunc("/wallets", h.RegisterWallet).Methods("POST")
	r.HandleFunc("/wallets/{addr}/deregister", h.RequestWalletDeregistration).Methods("POST")
	r.HandleFunc("/wallets/{addr}/deregister/finalize", h.FinalizeWalletDeregistration).Methods("POST")
	r.HandleFunc("/wallets/{addr}/deregister/withdraw", h.WithdrawWalletDeregistration).Methods("POST")

	// Watchdog observation ledger and governance resolution
	r.HandleFunc("/observations", h.ReportObservation).Methods("POST")
	r.HandleFunc("/observations/{obsID}", h.GetObservation).Methods("GET")
	r.HandleFunc("/observations/{obsID}/support", h.SupportReport).Methods("POST")
	r.HandleFunc("/observations/{obsID}/handoff/retry", h.RetryObservationHandoff).Methods("POST")
	r.HandleFunc("/observations/{obsID}/resolve", h.ResolveObservation).Methods("POST")
	r.HandleFunc("/qcs/{id}/observations", h.ListObservations).Methods("GET")
	r.HandleFunc("/qcs/{id}/observations/resolve", h.ResolveTargetObservations).Methods("POST")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
