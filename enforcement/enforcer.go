package enforcement

import (
	"math/bits"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/entity"
	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
	"github.com/tlabs-xyz/tbtc-v2-sub017/metrics"
	"github.com/tlabs-xyz/tbtc-v2-sub017/models"
	"github.com/tlabs-xyz/tbtc-v2-sub017/repository"
)

// ReserveReader is the oracle surface enforcement depends on. Raw
// attestations are never read here; only the published consensus.
type ReserveReader interface {
	GetConsensus(qcID string) (value uint64, isStale bool, err error)
}

type Config struct {
	MinCollateralRatio uint64 // percent, e.g. 90 means reserves must cover 90% of minted
	RedemptionTimeout  int64  // millis a redemption may stay pending
	FailureThreshold   int    // defaults inside the rolling window that trip REPEATED_FAILURES
	FailureWindow      int64  // millis
	InactivityPeriod   int64  // millis without QC activity before QC_INACTIVE
}

// Enforcer runs deterministic, permissionlessly-triggerable compliance
// checks. Every check is a pure function of already-published state: an
// honest caller cannot corrupt anything and a redundant call is a no-op,
// so no access control is needed beyond the cost of calling.
type Enforcer struct {
	repo     repository.Store
	entities *entity.Store
	reserves ReserveReader
	cfg      Config
	mux      sync.Mutex

	// Now supplies the ledger clock in unix millis; overridable in tests.
	Now func() int64
}

func NewEnforcer(repo repository.Store, entities *entity.Store, reserves ReserveReader, cfg Config) *Enforcer {
	return &Enforcer{
		repo:     repo,
		entities: entities,
		reserves: reserves,
		cfg:      cfg,
		Now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// CheckReserveCompliance compares the QC's trusted reserve figure against
// its minted amount. Returns the violation code found, or empty when the QC
// is compliant or already escalated. Checked in order, first match wins;
// missing or stale consensus fails closed.
func (e *Enforcer) CheckReserveCompliance(qcID string) (models.ViolationCode, error) {
	e.mux.Lock()
	defer e.mux.Unlock()

	qc, err := e.repo.GetQC(qcID)
	if err != nil {
		return "", err
	}
	if qc.Status != models.QCActive {
		return "", nil
	}

	reserves, stale, err := e.reserves.GetConsensus(qcID)
	if err != nil {
		return "", err
	}

	var code models.ViolationCode
	switch {
	case stale:
		code = models.ViolationStaleAttestation
	case reserves == 0 && qc.MintedAmount > 0:
		code = models.ViolationZeroReserves
	case !coversRatio(reserves, qc.MintedAmount, e.cfg.MinCollateralRatio):
		code = models.ViolationInsufficientReserves
	default:
		return "", nil
	}

	return code, e.flag(qcID, code, "reserve compliance check")
}

// CheckRedemptionTimeout flags a pending redemption that outlived its
// timeout as DEFAULTED and bumps the QC's failure counter. Re-checking an
// already-defaulted redemption is a no-op.
func (e *Enforcer) CheckRedemptionTimeout(redemptionID string) (bool, error) {
	e.mux.Lock()
	defer e.mux.Unlock()

	r, err := e.repo.GetRedemption(redemptionID)
	if err != nil {
		return false, err
	}
	if r.Status != models.RedemptionPending {
		return false, nil
	}
	if e.Now() <= r.RequestedAt+e.cfg.RedemptionTimeout {
		return false, nil
	}

	r.Status = models.RedemptionDefaulted
	if err := e.repo.PutRedemption(r); err != nil {
		return false, err
	}
	if err := e.entities.RecordRedemptionFailure(r.QCID, e.cfg.FailureWindow); err != nil {
		return false, err
	}

	metrics.Violations.WithLabelValues(string(models.ViolationRedemptionTimeout)).Inc()
	logger.Logger.Warn("redemption defaulted",
		zap.String("redemption_id", redemptionID),
		zap.String("qc_id", r.QCID))
	return true, nil
}

// CheckOperationalCompliance escalates a QC with too many recent defaults
// inside the rolling window, or one that has gone silent for the
// inactivity period.
func (e *Enforcer) CheckOperationalCompliance(qcID string) (models.ViolationCode, error) {
	e.mux.Lock()
	defer e.mux.Unlock()

	qc, err := e.repo.GetQC(qcID)
	if err != nil {
		return "", err
	}
	if qc.Status != models.QCActive {
		return "", nil
	}

	now := e.Now()
	var code models.ViolationCode
	switch {
	case qc.RecentFailures >= e.cfg.FailureThreshold && now-qc.FailureWindowStart <= e.cfg.FailureWindow:
		code = models.ViolationRepeatedFailures
	case now-qc.LastActivityAt > e.cfg.InactivityPeriod:
		code = models.ViolationQCInactive
	default:
		return "", nil
	}

	return code, e.flag(qcID, code, "operational compliance check")
}

// IsSolvent reports whether the QC's fresh consensus reserves still cover
// its minted amount at the configured ratio. Used to gate wallet
// deregistration; stale data fails closed.
func (e *Enforcer) IsSolvent(qcID string) (bool, error) {
	qc, err := e.repo.GetQC(qcID)
	if err != nil {
		return false, err
	}
	if qc.MintedAmount == 0 {
		return true, nil
	}

	reserves, stale, err := e.reserves.GetConsensus(qcID)
	if err != nil {
		return false, err
	}
	if stale {
		return false, nil
	}
	return coversRatio(reserves, qc.MintedAmount, e.cfg.MinCollateralRatio), nil
}

// coversRatio reports whether reserves*100 >= minted*ratioPercent, computed
// in 128 bits so satoshi-scale balances cannot wrap the comparison.
func coversRatio(reserves, minted, ratioPercent uint64) bool {
	rh, rl := bits.Mul64(reserves, 100)
	mh, ml := bits.Mul64(minted, ratioPercent)
	if rh != mh {
		return rh > mh
	}
	return rl >= ml
}

func (e *Enforcer) flag(qcID string, code models.ViolationCode, reason string) error {
	if err := e.entities.SetStatus(qcID, models.QCUnderReview, code, reason); err != nil {
		return err
	}
	metrics.Violations.WithLabelValues(string(code)).Inc()
	logger.Logger.Warn("compliance violation",
		zap.String("qc_id", qcID),
		zap.String("code", string(code)))
	return nil
}
