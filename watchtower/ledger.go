package watchtower

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
	ErrUnauthorizedWatchdog = errors.New("reporter is not a registered watchdog")
	ErrInvalidCategory      = errors.New("unknown observation category")
	ErrTooMuchEvidence      = errors.New("evidence hashes exceed the bound")
	ErrSelfSupport          = errors.New("reporter cannot support their own observation")
)

// EscalationSink receives observations whose category threshold was
// reached. The governance bridge implements it. A successful handoff sets
// the observation's proposal id; the ledger treats an escalated observation
// without one as a pending handoff and keeps retrying.
type EscalationSink interface {
	EscalateForReview(obs *models.Observation) error
}

// Ledger is the transparent, append-only record of subjective watchdog
// reports. Recording an observation takes no action by itself; escalation
// is driven purely by category thresholds and peer support.
type Ledger struct {
	repo      repository.Store
	watchdogs map[string]struct{}
	sink      EscalationSink
	mux       sync.Mutex

	// Now supplies the ledger clock in unix millis; overridable in tests.
	Now func() int64
}

func NewLedger(repo repository.Store, watchdogs []string, sink EscalationSink) *Ledger {
	set := make(map[string]struct{}, len(watchdogs))
	for _, w := range watchdogs {
		set[w] = struct{}{}
	}
	return &Ledger{
		repo:      repo,
		watchdogs: set,
		sink:      sink,
		Now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// ReportObservation records a watchdog's concern about a QC. Categories with
// a zero threshold escalate on the report itself.
func (l *Ledger) ReportObservation(reporterID, targetQC string, category models.Category, description string, evidenceHashes []string) (*models.Observation, error) {
	if _, ok := l.watchdogs[reporterID]; !ok {
		return nil, ErrUnauthorizedWatchdog
	}
	if !category.IsValid() {
		return nil, ErrInvalidCategory
	}
	if len(evidenceHashes) > models.MaxEvidenceHashes {
		return nil, ErrTooMuchEvidence
	}
	if _, err := l.repo.GetQC(targetQC); err != nil {
		return nil, err
	}

	l.mux.Lock()
	defer l.mux.Unlock()

	obs := &models.Observation{
		ID:             uuid.NewString(),
		ReporterID:     reporterID,
		TargetQC:       targetQC,
		Category:       category,
		Description:    description,
		EvidenceHashes: evidenceHashes,
		CreatedAt:      l.Now(),
		Resolution:     models.ResolutionUnresolved,
	}
	if err := l.repo.PutObservation(obs); err != nil {
		return nil, err
	}

	metrics.Observations.WithLabelValues(string(category)).Inc()
	logger.Logger.Info("observation recorded",
		zap.String("observation_id", obs.ID),
		zap.String("reporter_id", reporterID),
		zap.String("target_qc", targetQC),
		zap.String("category", string(category)))

	if err := l.maybeEscalateLocked(obs); err != nil {
		return nil, err
	}
	return obs, nil
}

// SupportReport adds a watchdog to an observation's supporter set.
// Self-support is rejected; supporting twice is a no-op so racing calls
// from the same reporter never double-count.
func (l *Ledger) SupportReport(reporterID, observationID string) error {
	if _, ok := l.watchdogs[reporterID]; !ok {
		return ErrUnauthorizedWatchdog
	}

	l.mux.Lock()
	defer l.mux.Unlock()

	obs, err := l.repo.GetObservation(observationID)
	if err != nil {
		return err
	}
	if obs.ReporterID == reporterID {
		return ErrSelfSupport
	}
	if obs.HasSupporter(reporterID) {
		return nil
	}

	obs.Supporters = append(obs.Supporters, reporterID)
	if err := l.repo.PutObservation(obs); err != nil {
		return err
	}
	logger.Logger.Info("observation supported",
		zap.String("observation_id", observationID),
		zap.String("reporter_id", reporterID),
		zap.Int("supporters", len(obs.Supporters)))

	return l.maybeEscalateLocked(obs)
}

// maybeEscalateLocked flips the escalated flag exactly once when the
// category threshold is reached and hands the observation to governance.
// The flag never reverts. A failed handoff does not fail the caller: the
// observation stays queued (escalated, no proposal id) and the handoff is
// retried on later support or via RetryHandoff, so an escalated
// observation can never silently drop out of the governance queue.
func (l *Ledger) maybeEscalateLocked(obs *models.Observation) error {
	if !obs.Escalated {
		if len(obs.Supporters) < obs.Category.EscalationThreshold() {
			return nil
		}
		obs.Escalated = true
		if err := l.repo.PutObservation(obs); err != nil {
			return err
		}
		metrics.Escalations.Inc()
		logger.Logger.Info("observation escalated",
			zap.String("observation_id", obs.ID),
			zap.String("target_qc", obs.TargetQC),
			zap.String("category", string(obs.Category)))
	}
	if obs.ProposalID != "" || obs.Resolution.IsTerminal() {
		return nil
	}

	if err := l.sink.EscalateForReview(obs); err != nil {
		logger.Logger.Error("governance handoff failed, will retry",
			zap.String("observation_id", obs.ID),
			zap.Error(err))
		return nil
	}
	return l.repo.PutObservation(obs)
}

// RetryHandoff re-attempts the governance handoff of an escalated
// observation whose proposal submission failed. Permissionless and
// idempotent: with the proposal already submitted there is nothing to do.
func (l *Ledger) RetryHandoff(observationID string) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	obs, err := l.repo.GetObservation(observationID)
	if err != nil {
		return err
	}
	if !obs.Escalated || obs.ProposalID != "" || obs.Resolution.IsTerminal() {
		return nil
	}
	if err := l.sink.EscalateForReview(obs); err != nil {
		return err
	}
	return l.repo.PutObservation(obs)
}

// UpdateObservation re-reads and rewrites one observation under the
// ledger's lock. Every observation mutation outside this package goes
// through here so no writer can clobber another's update with a stale copy.
func (l *Ledger) UpdateObservation(id string, mutate func(*models.Observation) error) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	obs, err := l.repo.GetObservation(id)
	if err != nil {
		return err
	}
	if err := mutate(obs); err != nil {
		return err
	}
	return l.repo.PutObservation(obs)
}

// GetObservation retrieves an observation by its identifier
func (l *Ledger) GetObservation(id string) (*models.Observation, error) {
	return l.repo.GetObservation(id)
}

// ListByTarget retrieves every observation filed against the QC
func (l *Ledger) ListByTarget(qcID string) ([]*models.Observation, error) {
	return l.repo.ListObservationsByTarget(qcID)
}
