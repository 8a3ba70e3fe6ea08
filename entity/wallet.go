package entity

import (
	"errors"

	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
	"github.com/tlabs-xyz/tbtc-v2-sub017/models"
	"github.com/tlabs-xyz/tbtc-v2-sub017/repository"
)

// RegisterWallet activates a wallet for a QC after its control proof
// verifies. The proof mechanism is external; a rejected proof is an input
// rejection, not a stored state.
func (s *Store) RegisterWallet(qcID, address string, proof []byte) (*models.Wallet, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	qc, err := s.repo.GetQC(qcID)
	if err != nil {
		return nil, err
	}
	if qc.Status != models.QCActive {
		return nil, ErrQCNotActive
	}
	if _, err := s.repo.GetWallet(address); err == nil {
		return nil, ErrWalletExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if !s.verifier.VerifyControl(qcID, address, proof) {
		return nil, ErrControlProof
	}

	w := &models.Wallet{
		Address:      address,
		QCID:         qcID,
		Status:       models.WalletActive,
		RegisteredAt: s.Now(),
	}
	if err := s.repo.PutWallet(w); err != nil {
		return nil, err
	}
	logger.Logger.Info("wallet registered",
		zap.String("qc_id", qcID), zap.String("address", address))
	return w, nil
}

// RequestWalletDeregistration marks an active wallet pending removal. Only
// the owning QC may ask for its wallet back.
func (s *Store) RequestWalletDeregistration(callerID, address string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	w, err := s.repo.GetWallet(address)
	if err != nil {
		return err
	}
	if callerID != w.QCID {
		return ErrUnauthorizedCaller
	}
	if w.Status != models.WalletActive {
		return ErrWalletState
	}
	w.Status = models.WalletPendingDeregistration
	return s.repo.PutWallet(w)
}

// FinalizeWalletDeregistration deactivates a pending wallet, but only after
// a fresh solvency check against the QC passes. A QC may not walk away from
// reserves its minted supply still depends on.
func (s *Store) FinalizeWalletDeregistration(callerID, address string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	w, err := s.repo.GetWallet(address)
	if err != nil {
		return err
	}
	if callerID != w.QCID {
		return ErrUnauthorizedCaller
	}
	if w.Status != models.WalletPendingDeregistration {
		return ErrWalletState
	}

	solvent, err := s.solvency.IsSolvent(w.QCID)
	if err != nil {
		return err
	}
	if !solvent {
		return ErrNotSolvent
	}

	w.Status = models.WalletInactive
	if err := s.repo.PutWallet(w); err != nil {
		return err
	}
	logger.Logger.Info("wallet deregistered",
		zap.String("qc_id", w.QCID), zap.String("address", address))
	return nil
}

// WithdrawWalletDeregistration returns a pending wallet to active
func (s *Store) WithdrawWalletDeregistration(callerID, address string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	w, err := s.repo.GetWallet(address)
	if err != nil {
		return err
	}
	if callerID != w.QCID {
		return ErrUnauthorizedCaller
	}
	if w.Status != models.WalletPendingDeregistration {
		return ErrWalletState
	}
	qc, err := s.repo.GetQC(w.QCID)
	if err != nil {
		return err
	}
	if qc.Status == models.QCRevoked {
		return ErrInvalidTransition
	}
	w.Status = models.WalletActive
	return s.repo.PutWallet(w)
}

// GetWallet retrieves a wallet record
func (s *Store) GetWallet(address string) (*models.Wallet, error) {
	return s.repo.GetWallet(address)
}

// RequestRedemption records a PENDING redemption against the QC. The token
// burn itself happens in the token layer, which is also the only principal
// allowed to file the record here; it feeds the timeout check.
func (s *Store) RequestRedemption(callerID, qcID, id string, amount uint64) (*models.Redemption, error) {
	if err := s.authorizeToken(callerID); err != nil {
		return nil, err
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	qc, err := s.repo.GetQC(qcID)
	if err != nil {
		return nil, err
	}
	if qc.Status == models.QCRevoked {
		return nil, ErrQCNotActive
	}
	if _, err := s.repo.GetRedemption(id); err == nil {
		return nil, ErrRedemptionExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	r := &models.Redemption{
		ID:          id,
		QCID:        qcID,
		Amount:      amount,
		Status:      models.RedemptionPending,
		RequestedAt: s.Now(),
	}
	if err := s.repo.PutRedemption(r); err != nil {
		return nil, err
	}
	qc.LastActivityAt = s.Now()
	if err := s.repo.PutQC(qc); err != nil {
		return nil, err
	}
	return r, nil
}
