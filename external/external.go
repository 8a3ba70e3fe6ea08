// Package external holds HTTP adapters for the collaborators this service
// consumes but does not implement: the wallet control-proof verifier and
// governance's proposal mechanism.
package external

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
)

// ControlVerifier asks the proof service whether a QC controls a Bitcoin
// address. Any transport or verification failure reads as "not proven";
// registration fails closed.
type ControlVerifier struct {
	endpoint string
	client   *http.Client
}

func NewControlVerifier(endpoint string) *ControlVerifier {
	return &ControlVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *ControlVerifier) VerifyControl(qcID, address string, proof []byte) bool {
	body, err := json.Marshal(map[string]interface{}{
		"qc_id":   qcID,
		"address": address,
		"proof":   proof,
	})
	if err != nil {
		return false
	}
	resp, err := v.client.Post(v.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Logger.Warn("control proof verification unreachable", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var result struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	return result.Verified
}

// ProposalSubmitter forwards escalated observations to governance's
// external proposal endpoint and returns the assigned proposal id.
type ProposalSubmitter struct {
	endpoint string
	client   *http.Client
}

func NewProposalSubmitter(endpoint string) *ProposalSubmitter {
	return &ProposalSubmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ProposalSubmitter) SubmitProposal(payload []byte) (string, error) {
	resp, err := s.client.Post(s.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "submit proposal")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errors.Errorf("proposal endpoint returned %d", resp.StatusCode)
	}
	var result struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "decode proposal response")
	}
	return result.ProposalID, nil
}
