package oracle

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
	"github.com/tlabs-xyz/tbtc-v2-sub017/metrics"
	"github.com/tlabs-xyz/tbtc-v2-sub017/models"
	"github.com/tlabs-xyz/tbtc-v2-sub017/repository"
)

var ErrUnauthorizedAttester = errors.New("attester is not registered")

// DefaultQuorum is the minimum number of live attesters needed before a
// consensus reading is published. Three tolerates one dishonest attester.
const DefaultQuorum = 3

type Config struct {
	Quorum          int
	StalenessMillis int64 // max age of a live attestation / fresh consensus
}

// Oracle turns N independent, untrusted balance reports into one trusted
// number. Attesters are role-gated to bound spam; the content itself is
// trusted only through the quorum median.
type Oracle struct {
	repo      repository.Store
	attesters map[string]struct{}
	cfg       Config
	mux       sync.Mutex

	// Now supplies the ledger clock in unix millis; overridable in tests.
	Now func() int64
}

func NewOracle(repo repository.Store, attesters []string, cfg Config) *Oracle {
	if cfg.Quorum <= 0 {
		cfg.Quorum = DefaultQuorum
	}
	set := make(map[string]struct{}, len(attesters))
	for _, a := range attesters {
		set[a] = struct{}{}
	}
	return &Oracle{
		repo:      repo,
		attesters: set,
		cfg:       cfg,
		Now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// SubmitAttestation stores an attester's balance report for a QC,
// overwriting the attester's prior reading (latest-report-wins), then
// recomputes consensus if quorum is reached among live readings.
func (o *Oracle) SubmitAttestation(attesterID, qcID string, balance uint64, timestamp int64) error {
	if _, ok := o.attesters[attesterID]; !ok {
		return ErrUnauthorizedAttester
	}
	if _, err := o.repo.GetQC(qcID); err != nil {
		return err
	}

	o.mux.Lock()
	defer o.mux.Unlock()

	att := &models.Attestation{
		AttesterID: attesterID,
		QCID:       qcID,
		Balance:    balance,
		Timestamp:  timestamp,
	}
	if err := o.repo.PutAttestation(att); err != nil {
		return err
	}
	metrics.AttestationsSubmitted.WithLabelValues(attesterID).Inc()

	return o.recomputeLocked(qcID)
}

// recomputeLocked publishes a new consensus reading if enough attesters
// have a reading younger than the staleness window. Publication never
// regresses the reading's timestamp.
func (o *Oracle) recomputeLocked(qcID string) error {
	atts, err := o.repo.ListAttestationsByQC(qcID)
	if err != nil {
		return err
	}

	now := o.Now()
	var live []uint64
	for _, a := range atts {
		if now-a.Timestamp <= o.cfg.StalenessMillis {
			live = append(live, a.Balance)
		}
	}
	if len(live) < o.cfg.Quorum {
		return nil
	}

	value := median(live)
	prev, err := o.repo.GetConsensus(qcID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if prev != nil && prev.ComputedAt > now {
		return nil
	}

	reading := &models.ConsensusReading{
		QCID:          qcID,
		Value:         value,
		ComputedAt:    now,
		AttesterCount: len(live),
	}
	if err := o.repo.PutConsensus(reading); err != nil {
		return err
	}
	metrics.ConsensusUpdates.Inc()
	logger.Logger.Info("consensus reading published",
		zap.String("qc_id", qcID),
		zap.Uint64("value", value),
		zap.Int("attester_count", len(live)))
	return nil
}

// GetConsensus returns the trusted reserve figure and whether it is stale.
// A QC with no reading at all reads as (0, stale): enforcement treats
// missing data as a violation condition, never as compliant by default.
func (o *Oracle) GetConsensus(qcID string) (uint64, bool, error) {
	reading, err := o.repo.GetConsensus(qcID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, true, nil
	}
	if err != nil {
		return 0, true, err
	}
	stale := o.Now()-reading.ComputedAt > o.cfg.StalenessMillis
	return reading.Value, stale, nil
}

// GetReading returns the raw consensus record, for the read-only API.
func (o *Oracle) GetReading(qcID string) (*models.ConsensusReading, error) {
	return o.repo.GetConsensus(qcID)
}

// median of a non-empty set of balances; the mean of the two middle values
// when the count is even.
func median(values []uint64) uint64 {
	sorted := make([]uint64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	// Midpoint without summing; the sum can wrap on large balances.
	lo, hi := sorted[mid-1], sorted[mid]
	return lo + (hi-lo)/2
}
