package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/enforcement"
	"github.com/tlabs-xyz/tbtc-v2-sub017/entity"
	"github.com/tlabs-xyz/tbtc-v2-sub017/governance"
	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
	"github.com/tlabs-xyz/tbtc-v2-sub017/models"
	"github.com/tlabs-xyz/tbtc-v2-sub017/oracle"
	"github.com/tlabs-xyz/tbtc-v2-sub017/repository"
	"github.com/tlabs-xyz/tbtc-v2-sub017/watchtower"
)

// Handler contains the HTTP handlers for the custody monitoring API
type Handler struct {
	Entities *entity.Store
	Oracle   *oracle.Oracle
	Enforcer *enforcement.Enforcer
	Ledger   *watchtower.Ledger
	Bridge   *governance.Bridge
}

// NewHandler creates and returns a new Handler instance
func NewHandler(entities *entity.Store, o *oracle.Oracle, e *enforcement.Enforcer, l *watchtower.Ledger, b *governance.Bridge) *Handler {
	return &Handler{Entities: entities, Oracle: o, Enforcer: e, Ledger: l, Bridge: b}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps the service error taxonomy onto HTTP codes: unauthorized
// principals 403, malformed input 400, unknown entities 404, invalid state
// moves 409. No-op outcomes never reach here; they are 200s.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, oracle.ErrUnauthorizedAttester),
		errors.Is(err, watchtower.ErrUnauthorizedWatchdog),
		errors.Is(err, governance.ErrUnauthorizedGovernor),
		errors.Is(err, entity.ErrUnauthorizedCaller),
		errors.Is(err, entity.ErrControlProof):
		return http.StatusForbidden
	case errors.Is(err, watchtower.ErrInvalidCategory),
		errors.Is(err, watchtower.ErrTooMuchEvidence),
		errors.Is(err, watchtower.ErrSelfSupport),
		errors.Is(err, governance.ErrInvalidResolution):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrQCExists),
		errors.Is(err, entity.ErrQCNotActive),
		errors.Is(err, entity.ErrInvalidTransition),
		errors.Is(err, entity.ErrCapacityExceeded),
		errors.Is(err, entity.ErrInsufficientMint),
		errors.Is(err, entity.ErrWalletExists),
		errors.Is(err, entity.ErrWalletState),
		errors.Is(err, entity.ErrNotSolvent),
		errors.Is(err, entity.ErrRedemptionExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Logger.Error("failed to decode request", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
		return false
	}
	return true
}

// RegisterQC handles governance-gated custodian registration
func (h *Handler) RegisterQC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
		QCID     string `json:"qc_id"`
		Capacity uint64 `json:"capacity"`
	}
	if !decode(w, r, &req) {
		return
	}
	qc, err := h.Bridge.RegisterQC(req.CallerID, req.QCID, req.Capacity)
	if err != nil {
		logger.Logger.Error("failed to register QC", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "QC registered successfully",
		"qc":      qc,
	})
}

// GetQC handles GET requests for a custodian record
func (h *Handler) GetQC(w http.ResponseWriter, r *http.Request) {
	qc, err := h.Entities.GetQC(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qc)
}

// GetQCEvents returns the append-only status transition history of a QC
func (h *Handler) GetQCEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Entities.GetEvents(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// SuspendQC handles a governance action moving a custodian under review
func (h *Handler) SuspendQC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
		Reason   string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Bridge.SuspendQC(req.CallerID, mux.Vars(r)["id"], req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "QC suspended"})
}

// RecoverQC handles the governance-only recovery of a custodian under review
func (h *Handler) RecoverQC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Bridge.RecoverQC(req.CallerID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "QC recovered"})
}

// RevokeQC handles terminal revocation of a custodian
func (h *Handler) RevokeQC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Bridge.RevokeQC(req.CallerID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "QC revoked"})
}

// Mint records an increase of the QC's minted amount. Token-layer callback,
// gated on the token principal set.
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
		Amount   uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Entities.IncreaseMinted(req.CallerID, mux.Vars(r)["id"], req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "minted amount increased"})
}

// Burn records a decrease of the QC's minted amount. Token-layer callback,
// gated on the token principal set.
func (h *Handler) Burn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
		Amount   uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Entities.DecreaseMinted(req.CallerID, mux.Vars(r)["id"], req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "minted amount decreased"})
}

// SubmitAttestation handles an attester's balance report for a QC
func (h *Handler) SubmitAttestation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AttesterID string `json:"attester_id"`
		QCID       string `json:"qc_id"`
		Balance    uint64 `json:"balance"`
		Timestamp  int64  `json:"timestamp"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Oracle.SubmitAttestation(req.AttesterID, req.QCID, req.Balance, req.Timestamp); err != nil {
		logger.Logger.Error("failed to submit attestation", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "attestation recorded"})
}

// GetConsensus returns the oracle's trusted reserve figure for a QC
func (h *Handler) GetConsensus(w http.ResponseWriter, r *http.Request) {
	qcID := mux.Vars(r)["id"]
	value, stale, err := h.Oracle.GetConsensus(qcID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{
		"qc_id":    qcID,
		"value":    value,
		"is_stale": stale,
	}
	if reading, err := h.Oracle.GetReading(qcID); err == nil {
		resp["computed_at"] = reading.ComputedAt
		resp["attester_count"] = reading.AttesterCount
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckReserveCompliance triggers the permissionless reserve check. A clean
// check is a successful call with empty effect, never a failure.
func (h *Handler) CheckReserveCompliance(w http.ResponseWriter, r *http.Request) {
	code, err := h.Enforcer.CheckReserveCompliance(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"violation": string(code)})
}

// CheckOperationalCompliance triggers the permissionless operational check
func (h *Handler) CheckOperationalCompliance(w http.ResponseWriter, r *http.Request) {
	code, err := h.Enforcer.CheckOperationalCompliance(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"violation": string(code)})
}

// RequestRedemption records a pending redemption against a QC. Only the
// token layer files these.
func (h *Handler) RequestRedemption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID     string `json:"caller_id"`
		QCID         string `json:"qc_id"`
		RedemptionID string `json:"redemption_id"`
		Amount       uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	red, err := h.Entities.RequestRedemption(req.CallerID, req.QCID, req.RedemptionID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "redemption recorded",
		"redemption": red,
	})
}

// CheckRedemptionTimeout triggers the permissionless timeout check
func (h *Handler) CheckRedemptionTimeout(w http.ResponseWriter, r *http.Request) {
	defaulted, err := h.Enforcer.CheckRedemptionTimeout(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"defaulted": defaulted})
}

// RegisterWallet activates a wallet for a QC after its control proof verifies
func (h *Handler) RegisterWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QCID    string `json:"qc_id"`
		Address string `json:"address"`
		Proof   []byte `json:"proof"`
	}
	if !decode(w, r, &req) {
		return
	}
	wallet, err := h.Entities.RegisterWallet(req.QCID, req.Address, req.Proof)
	if err != nil {
		logger.Logger.Error("failed to register wallet", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "wallet registered",
		"wallet":  wallet,
	})
}

// RequestWalletDeregistration marks an active wallet pending removal; only
// the owning QC may ask
func (h *Handler) RequestWalletDeregistration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Entities.RequestWalletDeregistration(req.CallerID, mux.Vars(r)["addr"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deregistration requested"})
}

// FinalizeWalletDeregistration deactivates a pending wallet after the
// solvency check passes
func (h *Handler) FinalizeWalletDeregistration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Entities.FinalizeWalletDeregistration(req.CallerID, mux.Vars(r)["addr"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "wallet deregistered"})
}

// WithdrawWalletDeregistration returns a pending wallet to active
func (h *Handler) WithdrawWalletDeregistration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Entities.WithdrawWalletDeregistration(req.CallerID, mux.Vars(r)["addr"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deregistration withdrawn"})
}

// ReportObservation records a watchdog's subjective concern about a QC
func (h *Handler) ReportObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReporterID     string          `json:"reporter_id"`
		TargetQC       string          `json:"target_qc"`
		Category       models.Category `json:"category"`
		Description    string          `json:"description"`
		EvidenceHashes []string        `json:"evidence_hashes"`
	}
	if !decode(w, r, &req) {
		return
	}
	obs, err := h.Ledger.ReportObservation(req.ReporterID, req.TargetQC, req.Category, req.Description, req.EvidenceHashes)
	if err != nil {
		logger.Logger.Error("failed to record observation", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":     "observation recorded",
		"observation": obs,
	})
}

// SupportReport adds a watchdog to an observation's supporter set
func (h *Handler) SupportReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReporterID string `json:"reporter_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Ledger.SupportReport(req.ReporterID, mux.Vars(r)["obsID"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "support recorded"})
}

// RetryObservationHandoff re-attempts a failed governance handoff for an
// escalated observation. Permissionless and idempotent, like the checks.
func (h *Handler) RetryObservationHandoff(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.RetryHandoff(mux.Vars(r)["obsID"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "handoff attempted"})
}

// GetObservation retrieves one observation
func (h *Handler) GetObservation(w http.ResponseWriter, r *http.Request) {
	obs, err := h.Ledger.GetObservation(mux.Vars(r)["obsID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

// ListObservations retrieves every observation filed against a QC
func (h *Handler) ListObservations(w http.ResponseWriter, r *http.Request) {
	obs, err := h.Ledger.ListByTarget(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"observations": obs})
}

// ResolveObservation records governance's disposition of one observation
func (h *Handler) ResolveObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID   string            `json:"caller_id"`
		Resolution models.Resolution `json:"resolution"`
		Notes      string            `json:"notes"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Bridge.Resolve(req.CallerID, mux.Vars(r)["obsID"], req.Resolution, req.Notes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "observation resolved"})
}

// ResolveTargetObservations bulk-resolves all open observations for one QC
func (h *Handler) ResolveTargetObservations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID   string            `json:"caller_id"`
		Resolution models.Resolution `json:"resolution"`
		Notes      string            `json:"notes"`
	}
	if !decode(w, r, &req) {
		return
	}
	n, err := h.Bridge.ResolveAllForTarget(req.CallerID, mux.Vars(r)["id"], req.Resolution, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "observations resolved",
		"resolved": n,
	})
}
