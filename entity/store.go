package entity

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
	"github.com/tlabs-xyz/tbtc-v2-sub017/metrics"
	"github.com/tlabs-xyz/tbtc-v2-sub017/models"
	"github.com/tlabs-xyz/tbtc-v2-sub017/repository"
)

var (
	ErrQCExists           = errors.New("qc already registered")
	ErrUnauthorizedCaller = errors.New("caller is not authorized for this operation")
	ErrQCNotActive        = errors.New("qc is not active")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrCapacityExceeded   = errors.New("minted amount would exceed capacity")
	ErrInsufficientMint   = errors.New("minted amount smaller than burn")
	ErrWalletExists       = errors.New("wallet already registered")
	ErrWalletState        = errors.New("wallet is not in the required state")
	ErrControlProof       = errors.New("wallet control proof rejected")
	ErrNotSolvent         = errors.New("qc solvency check failed")
	ErrRedemptionExists   = errors.New("redemption already requested")
)

// ControlVerifier proves that a QC controls a Bitcoin address. The proof
// mechanism itself is external; only the boolean result is consumed here.
type ControlVerifier interface {
	VerifyControl(qcID, address string, proof []byte) bool
}

// SolvencyChecker decides whether a QC's trusted reserves still cover its
// minted amount. Wallet deregistration finalizes only when this passes.
type SolvencyChecker interface {
	IsSolvent(qcID string) (bool, error)
}

// Store is the single source of truth for QC and wallet status. All status
// writes serialize through its mutex; each call is one atomic transition.
// Supply moves are gated on the token-layer principal set; wallet lifecycle
// requests are gated on the owning QC.
type Store struct {
	repo            repository.Store
	verifier        ControlVerifier
	solvency        SolvencyChecker
	tokenPrincipals map[string]struct{}
	mux             sync.Mutex

	// Now supplies the ledger clock in unix millis; overridable in tests.
	Now func() int64
}

func NewStore(repo repository.Store, verifier ControlVerifier, tokenPrincipals []string) *Store {
	set := make(map[string]struct{}, len(tokenPrincipals))
	for _, p := range tokenPrincipals {
		set[p] = struct{}{}
	}
	return &Store{repo: repo, verifier: verifier, tokenPrincipals: set, Now: nowMillis}
}

func (s *Store) authorizeToken(callerID string) error {
	if _, ok := s.tokenPrincipals[callerID]; !ok {
		return ErrUnauthorizedCaller
	}
	return nil
}

// SetSolvencyChecker wires the enforcement-side solvency predicate. Set once
// at startup; kept out of the constructor to break the package cycle.
func (s *Store) SetSolvencyChecker(c SolvencyChecker) {
	s.solvency = c
}

// RegisterQC creates a new custodian in ACTIVE state. Governance-gated by
// the caller (the bridge); the store only enforces uniqueness.
func (s *Store) RegisterQC(id string, capacity uint64) (*models.QC, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if _, err := s.repo.GetQC(id); err == nil {
		return nil, ErrQCExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := s.Now()
	qc := &models.QC{
		ID:              id,
		Status:          models.QCActive,
		MintingCapacity: capacity,
		RegisteredAt:    now,
		LastActivityAt:  now,
	}
	if err := s.repo.PutQC(qc); err != nil {
		return nil, err
	}
	logger.Logger.Info("QC registered",
		zap.String("qc_id", id), zap.Uint64("capacity", capacity))
	return qc, nil
}

// GetQC retrieves a custodian record
func (s *Store) GetQC(id string) (*models.QC, error) {
	return s.repo.GetQC(id)
}

// GetStatus retrieves a custodian's current status
func (s *Store) GetStatus(id string) (models.QCStatus, error) {
	qc, err := s.repo.GetQC(id)
	if err != nil {
		return "", err
	}
	return qc.Status, nil
}

// SetStatus is the single atomic transition function. A transition to the
// current status is a no-op success so racing callers never see spurious
// failures. Every real transition appends a status event carrying the code.
func (s *Store) SetStatus(qcID string, next models.QCStatus, code models.ViolationCode, reason string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.setStatusLocked(qcID, next, code, reason)
}

func (s *Store) setStatusLocked(qcID string, next models.QCStatus, code models.ViolationCode, reason string) error {
	qc, err := s.repo.GetQC(qcID)
	if err != nil {
		return err
	}
	if qc.Status == next {
		return nil
	}
	if !qc.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}

	old := qc.Status
	qc.Status = next
	if code != "" {
		qc.LastViolation = code
	}
	if err := s.repo.PutQC(qc); err != nil {
		return err
	}

	event := &models.StatusEvent{
		ID:        uuid.NewString(),
		QCID:      qcID,
		OldStatus: old,
		NewStatus: next,
		Code:      code,
		Reason:    reason,
		At:        s.Now(),
	}
	if err := s.repo.AppendEvent(event); err != nil {
		return err
	}

	if next == models.QCRevoked {
		if err := s.deactivateWalletsLocked(qcID); err != nil {
			return err
		}
	}

	metrics.StatusTransitions.WithLabelValues(string(next)).Inc()
	logger.Logger.Info("QC status transition",
		zap.String("qc_id", qcID),
		zap.String("old_status", string(old)),
		zap.String("new_status", string(next)),
		zap.String("code", string(code)))
	return nil
}

// No wallet may stay ACTIVE under a revoked QC.
func (s *Store) deactivateWalletsLocked(qcID string) error {
	wallets, err := s.repo.ListWalletsByQC(qcID)
	if err != nil {
		return err
	}
	for _, w := range wallets {
		if w.Status == models.WalletInactive {
			continue
		}
		w.Status = models.WalletInactive
		if err := s.repo.PutWallet(w); err != nil {
			return err
		}
	}
	return nil
}

// IncreaseMinted records a mint against the QC's capacity. Only the token
// layer may move supply.
func (s *Store) IncreaseMinted(callerID, qcID string, amount uint64) error {
	if err := s.authorizeToken(callerID); err != nil {
		return err
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	qc, err := s.repo.GetQC(qcID)
	if err != nil {
		return err
	}
	if qc.Status != models.QCActive {
		return ErrQCNotActive
	}
	if qc.MintedAmount+amount > qc.MintingCapacity {
		return ErrCapacityExceeded
	}
	qc.MintedAmount += amount
	qc.LastActivityAt = s.Now()
	return s.repo.PutQC(qc)
}

// DecreaseMinted records a burn. Allowed while under review so holders can
// still exit; rejected once the QC is revoked.
func (s *Store) DecreaseMinted(callerID, qcID string, amount uint64) error {
	if err := s.authorizeToken(callerID); err != nil {
		return err
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	qc, err := s.repo.GetQC(qcID)
	if err != nil {
		return err
	}
	if qc.Status == models.QCRevoked {
		return ErrInvalidTransition
	}
	if qc.MintedAmount < amount {
		return ErrInsufficientMint
	}
	qc.MintedAmount -= amount
	qc.LastActivityAt = s.Now()
	return s.repo.PutQC(qc)
}

// RecordRedemptionFailure bumps the QC's failure counter inside a rolling
// window; a stale window restarts the count.
func (s *Store) RecordRedemptionFailure(qcID string, windowMillis int64) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	qc, err := s.repo.GetQC(qcID)
	if err != nil {
		return err
	}
	now := s.Now()
	if now-qc.FailureWindowStart > windowMillis {
		qc.RecentFailures = 0
		qc.FailureWindowStart = now
	}
	qc.RecentFailures++
	return s.repo.PutQC(qc)
}

// GetEvents retrieves the QC's status transition history
func (s *Store) GetEvents(qcID string) ([]*models.StatusEvent, error) {
	return s.repo.ListEventsByQC(qcID)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
