package governance

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/entity"
	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
	"github.com/tlabs-xyz/tbtc-v2-sub017/metrics"
	"github.com/tlabs-xyz/tbtc-v2-sub017/models"
)

var (
	ErrUnauthorizedGovernor = errors.New("caller is not a governance principal")
	ErrInvalidResolution    = errors.New("resolution must be a terminal disposition")

	errAlreadySettled = errors.New("observation already settled")
)

// ProposalSubmitter is the external governance proposal mechanism. Only the
// handoff matters here; voting happens elsewhere.
type ProposalSubmitter interface {
	SubmitProposal(payload []byte) (proposalID string, err error)
}

// ObservationWriter serializes observation mutations through a single
// owner (the observation ledger), so a resolution can never be clobbered
// by a concurrent supporter write working from a stale copy.
type ObservationWriter interface {
	UpdateObservation(id string, mutate func(*models.Observation) error) error
	ListByTarget(qcID string) ([]*models.Observation, error)
}

// ProposalPayload is what governance sees for an escalated observation.
// Evidence stays referenced by hash; the bytes are fetched off-system.
type ProposalPayload struct {
	ObservationID  string          `json:"observation_id"`
	TargetQC       string          `json:"target_qc"`
	Category       models.Category `json:"category"`
	Description    string          `json:"description"`
	EvidenceHashes []string        `json:"evidence_hashes"`
}

// Bridge connects the observation ledger to the external governance
// process and records decisions back onto it. Resolution and all QC
// lifecycle moves are gated on the governance principal set.
type Bridge struct {
	entities     *entity.Store
	submitter    ProposalSubmitter
	observations ObservationWriter
	governors    map[string]struct{}
}

func NewBridge(entities *entity.Store, submitter ProposalSubmitter, governors []string) *Bridge {
	set := make(map[string]struct{}, len(governors))
	for _, g := range governors {
		set[g] = struct{}{}
	}
	return &Bridge{
		entities:  entities,
		submitter: submitter,
		governors: set,
	}
}

// SetObservationWriter wires the ledger back in as the single observation
// writer. Set once at startup; kept out of the constructor because the
// ledger is built on top of the bridge.
func (b *Bridge) SetObservationWriter(w ObservationWriter) {
	b.observations = w
}

func (b *Bridge) authorize(callerID string) error {
	if _, ok := b.governors[callerID]; !ok {
		return ErrUnauthorizedGovernor
	}
	return nil
}

// EscalateForReview moves an escalated observation under review and
// surfaces it to the external proposal mechanism. Invoked by the
// observation ledger, which holds its lock for the duration of the call;
// the mutated observation is persisted by the ledger on success.
func (b *Bridge) EscalateForReview(obs *models.Observation) error {
	payload, err := json.Marshal(ProposalPayload{
		ObservationID:  obs.ID,
		TargetQC:       obs.TargetQC,
		Category:       obs.Category,
		Description:    obs.Description,
		EvidenceHashes: obs.EvidenceHashes,
	})
	if err != nil {
		return err
	}
	proposalID, err := b.submitter.SubmitProposal(payload)
	if err != nil {
		return err
	}

	if obs.Resolution == models.ResolutionUnresolved {
		obs.Resolution = models.ResolutionUnderReview
	}
	obs.ProposalID = proposalID
	logger.Logger.Info("observation escalated to governance",
		zap.String("observation_id", obs.ID),
		zap.String("proposal_id", proposalID))
	return nil
}

// Resolve records governance's disposition of one observation. The
// resolution is monotonic: an observation never returns to UNRESOLVED, and
// only terminal dispositions are accepted here.
func (b *Bridge) Resolve(callerID, observationID string, resolution models.Resolution, notes string) error {
	if err := b.authorize(callerID); err != nil {
		return err
	}
	if !resolution.IsTerminal() {
		return ErrInvalidResolution
	}

	err := b.observations.UpdateObservation(observationID, func(obs *models.Observation) error {
		obs.Resolution = resolution
		obs.Notes = notes
		return nil
	})
	if err != nil {
		return err
	}
	b.recordResolution(observationID, resolution)
	return nil
}

// ResolveAllForTarget applies one disposition to every open observation
// against a QC. Common case: the QC remediated, clear its history.
func (b *Bridge) ResolveAllForTarget(callerID, qcID string, resolution models.Resolution, notes string) (int, error) {
	if err := b.authorize(callerID); err != nil {
		return 0, err
	}
	if !resolution.IsTerminal() {
		return 0, ErrInvalidResolution
	}

	obs, err := b.observations.ListByTarget(qcID)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, o := range obs {
		err := b.observations.UpdateObservation(o.ID, func(fresh *models.Observation) error {
			// Re-checked on the fresh copy; the listing above may be stale.
			if fresh.Resolution.IsTerminal() {
				return errAlreadySettled
			}
			fresh.Resolution = resolution
			fresh.Notes = notes
			return nil
		})
		if errors.Is(err, errAlreadySettled) {
			continue
		}
		if err != nil {
			return resolved, err
		}
		b.recordResolution(o.ID, resolution)
		resolved++
	}
	return resolved, nil
}

func (b *Bridge) recordResolution(observationID string, resolution models.Resolution) {
	metrics.Resolutions.WithLabelValues(string(resolution)).Inc()
	logger.Logger.Info("observation resolved",
		zap.String("observation_id", observationID),
		zap.String("resolution", string(resolution)))
}

// RegisterQC creates a custodian; governance-gated.
func (b *Bridge) RegisterQC(callerID, qcID string, capacity uint64) (*models.QC, error) {
	if err := b.authorize(callerID); err != nil {
		return nil, err
	}
	return b.entities.RegisterQC(qcID, capacity)
}

// SuspendQC moves an active custodian under review on a governance action.
func (b *Bridge) SuspendQC(callerID, qcID, reason string) error {
	if err := b.authorize(callerID); err != nil {
		return err
	}
	return b.entities.SetStatus(qcID, models.QCUnderReview, "", reason)
}

// RecoverQC returns a custodian under review to active. This path is
// governance-only; there is no automatic recovery.
func (b *Bridge) RecoverQC(callerID, qcID string) error {
	if err := b.authorize(callerID); err != nil {
		return err
	}
	return b.entities.SetStatus(qcID, models.QCActive, "", "governance recovery")
}

// RevokeQC terminally revokes a custodian and deactivates its wallets.
func (b *Bridge) RevokeQC(callerID, qcID string) error {
	if err := b.authorize(callerID); err != nil {
		return err
	}
	return b.entities.SetStatus(qcID, models.QCRevoked, "", "governance revocation")
}
