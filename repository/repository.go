package repository

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/tlabs-xyz/tbtc-v2-sub017/db"
	"github.com/tlabs-xyz/tbtc-v2-sub017/models"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Key prefixes per entity family. All values are JSON.
const (
	prefixQC          = "qc:"
	prefixWallet      = "wallet:"
	prefixAttestation = "att:"
	prefixConsensus   = "consensus:"
	prefixObservation = "obs:"
	prefixRedemption  = "redemption:"
	prefixEvent       = "event:"
)

// Store abstracts the storage layer from the business logic
type Store interface {
	PutQC(qc *models.QC) error
	GetQC(id string) (*models.QC, error)
	ListQCs() ([]*models.QC, error)

	PutWallet(w *models.Wallet) error
	GetWallet(addr string) (*models.Wallet, error)
	ListWalletsByQC(qcID string) ([]*models.Wallet, error)

	PutAttestation(a *models.Attestation) error
	ListAttestationsByQC(qcID string) ([]*models.Attestation, error)

	PutConsensus(c *models.ConsensusReading) error
	GetConsensus(qcID string) (*models.ConsensusReading, error)

	PutObservation(o *models.Observation) error
	GetObservation(id string) (*models.Observation, error)
	ListObservationsByTarget(qcID string) ([]*models.Observation, error)

	PutRedemption(r *models.Redemption) error
	GetRedemption(id string) (*models.Redemption, error)

	AppendEvent(e *models.StatusEvent) error
	ListEventsByQC(qcID string) ([]*models.StatusEvent, error)
}

// LedgerStore implements Store using LevelDB as the storage backend
type LedgerStore struct {
	db *db.LevelDB
}

// NewLedgerStore creates and returns a new LedgerStore instance
func NewLedgerStore(db *db.LevelDB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	return errors.Wrapf(s.db.Put([]byte(key), data), "put %s", key)
}

func (s *LedgerStore) get(key string, v interface{}) error {
	data, err := s.db.Get([]byte(key))
	if err == db.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "get %s", key)
	}
	return errors.Wrapf(json.Unmarshal(data, v), "unmarshal %s", key)
}

// PutQC stores a QC record
func (s *LedgerStore) PutQC(qc *models.QC) error {
	return s.put(prefixQC+qc.ID, qc)
}

// GetQC retrieves a QC record by its identifier
func (s *LedgerStore) GetQC(id string) (*models.QC, error) {
	var qc models.QC
	if err := s.get(prefixQC+id, &qc); err != nil {
		return nil, err
	}
	return &qc, nil
}

// ListQCs retrieves every registered QC
func (s *LedgerStore) ListQCs() ([]*models.QC, error) {
	iter := s.db.NewPrefixIterator([]byte(prefixQC))
	defer iter.Release()

	var qcs []*models.QC
	for iter.Next() {
		var qc models.QC
		if err := json.Unmarshal(iter.Value(), &qc); err != nil {
			return nil, errors.Wrap(err, "unmarshal qc")
		}
		qcs = append(qcs, &qc)
	}
	return qcs, iter.Error()
}

// PutWallet stores a wallet record
func (s *LedgerStore) PutWallet(w *models.Wallet) error {
	return s.put(prefixWallet+w.Address, w)
}

// GetWallet retrieves a wallet record by address
func (s *LedgerStore) GetWallet(addr string) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.get(prefixWallet+addr, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWalletsByQC retrieves every wallet belonging to the QC
func (s *LedgerStore) ListWalletsByQC(qcID string) ([]*models.Wallet, error) {
	iter := s.db.NewPrefixIterator([]byte(prefixWallet))
	defer iter.Release()

	var wallets []*models.Wallet
	for iter.Next() {
		var w models.Wallet
		if err := json.Unmarshal(iter.Value(), &w); err != nil {
			return nil, errors.Wrap(err, "unmarshal wallet")
		}
		if w.QCID == qcID {
			wallets = append(wallets, &w)
		}
	}
	return wallets, iter.Error()
}

// PutAttestation stores an attester's latest reading for a QC,
// overwriting any prior one (latest-report-wins)
func (s *LedgerStore) PutAttestation(a *models.Attestation) error {
	return s.put(prefixAttestation+a.QCID+":"+a.AttesterID, a)
}

// ListAttestationsByQC retrieves the latest reading of every attester for the QC
func (s *LedgerStore) ListAttestationsByQC(qcID string) ([]*models.Attestation, error) {
	iter := s.db.NewPrefixIterator([]byte(prefixAttestation + qcID + ":"))
	defer iter.Release()

	var atts []*models.Attestation
	for iter.Next() {
		var a models.Attestation
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			return nil, errors.Wrap(err, "unmarshal attestation")
		}
		atts = append(atts, &a)
	}
	return atts, iter.Error()
}

// PutConsensus stores the consensus reading for a QC. Only the oracle
// writes through this method.
func (s *LedgerStore) PutConsensus(c *models.ConsensusReading) error {
	return s.put(prefixConsensus+c.QCID, c)
}

// GetConsensus retrieves the consensus reading for a QC
func (s *LedgerStore) GetConsensus(qcID string) (*models.ConsensusReading, error) {
	var c models.ConsensusReading
	if err := s.get(prefixConsensus+qcID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutObservation stores an observation record
func (s *LedgerStore) PutObservation(o *models.Observation) error {
	return s.put(prefixObservation+o.ID, o)
}

// GetObservation retrieves an observation by its identifier
func (s *LedgerStore) GetObservation(id string) (*models.Observation, error) {
	var o models.Observation
	if err := s.get(prefixObservation+id, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListObservationsByTarget retrieves every observation filed against the QC
func (s *LedgerStore) ListObservationsByTarget(qcID string) ([]*models.Observation, error) {
	iter := s.db.NewPrefixIterator([]byte(prefixObservation))
	defer iter.Release()

	var obs []*models.Observation
	for iter.Next() {
		var o models.Observation
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, errors.Wrap(err, "unmarshal observation")
		}
		if o.TargetQC == qcID {
			obs = append(obs, &o)
		}
	}
	return obs, iter.Error()
}

// PutRedemption stores a redemption record
func (s *LedgerStore) PutRedemption(r *models.Redemption) error {
	return s.put(prefixRedemption+r.ID, r)
}

// GetRedemption retrieves a redemption record by its identifier
func (s *LedgerStore) GetRedemption(id string) (*models.Redemption, error) {
	var r models.Redemption
	if err := s.get(prefixRedemption+id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// AppendEvent stores a status event. The key embeds the timestamp so a
// prefix scan returns events in rough chronological order.
func (s *LedgerStore) AppendEvent(e *models.StatusEvent) error {
	key := fmt.Sprintf("%s%s:%020d:%s", prefixEvent, e.QCID, e.At, e.ID)
	return s.put(key, e)
}

// ListEventsByQC retrieves the status transition history of the QC
func (s *LedgerStore) ListEventsByQC(qcID string) ([]*models.StatusEvent, error) {
	iter := s.db.NewPrefixIterator([]byte(prefixEvent + qcID + ":"))
	defer iter.Release()

	var events []*models.StatusEvent
	for iter.Next() {
		var e models.StatusEvent
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, errors.Wrap(err, "unmarshal event")
		}
		events = append(events, &e)
	}
	return events, iter.Error()
}
