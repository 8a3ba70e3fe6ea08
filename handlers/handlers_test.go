package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/db"
	"github.com/tlabs-xyz/tbtc-v2-sub017/enforcement"
	"github.com/tlabs-xyz/tbtc-v2-sub017/entity"
	"github.com/tlabs-xyz/tbtc-v2-sub017/governance"
	"github.com/tlabs-xyz/tbtc-v2-sub017/handlers"
	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
	"github.com/tlabs-xyz/tbtc-v2-sub017/oracle"
	"github.com/tlabs-xyz/tbtc-v2-sub017/repository"
	"github.com/tlabs-xyz/tbtc-v2-sub017/routers"
	"github.com/tlabs-xyz/tbtc-v2-sub017/watchtower"
)

type okVerifier struct{}

func (okVerifier) VerifyControl(string, string, []byte) bool { return true }

type fakeSubmitter struct {
	count int
}

func (f *fakeSubmitter) SubmitProposal([]byte) (string, error) {
	f.count++
	return fmt.Sprintf("prop-%d", f.count), nil
}

func testServer(t *testing.T) *mux.Router {
	t.Helper()
	logger.Logger = zap.NewNop()

	ldb, err := db.NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	t.Cleanup(func() { ldb.Close() })

	store := repository.NewLedgerStore(ldb)
	entities := entity.NewStore(store, okVerifier{}, []string{"token-bridge"})

	o := oracle.NewOracle(store, []string{"attester-1", "attester-2", "attester-3"}, oracle.Config{
		Quorum:          3,
		StalenessMillis: 3_600_000,
	})

	enforcer := enforcement.NewEnforcer(store, entities, o, enforcement.Config{
		MinCollateralRatio: 90,
		RedemptionTimeout:  86_400_000,
		FailureThreshold:   3,
		FailureWindow:      604_800_000,
		InactivityPeriod:   2_592_000_000,
	})
	entities.SetSolvencyChecker(enforcer)

	bridge := governance.NewBridge(entities, &fakeSubmitter{}, []string{"council"})
	ledger := watchtower.NewLedger(store, []string{"watchdog-1", "watchdog-2"}, bridge)
	bridge.SetObservationWriter(ledger)

	handler := handlers.NewHandler(entities, o, enforcer, ledger, bridge)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler)
	return router
}

func do(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func registerQC(t *testing.T, router *mux.Router) {
	t.Helper()
	res := do(t, router, http.MethodPost, "/qcs", map[string]interface{}{
		"caller_id": "council",
		"qc_id":     "qc-1",
		"capacity":  10000,
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 registering QC, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestRegisterQC_Unauthorized(t *testing.T) {
	router := testServer(t)

	res := do(t, router, http.MethodPost, "/qcs", map[string]interface{}{
		"caller_id": "mallory",
		"qc_id":     "qc-1",
		"capacity":  10000,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestRegisterQC_InvalidPayload(t *testing.T) {
	router := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/qcs", bytes.NewReader([]byte("{not json")))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAttestationToConsensus(t *testing.T) {
	router := testServer(t)
	registerQC(t, router)

	now := time.Now().UnixMilli()
	for i, balance := range []uint64{990, 1000, 1010} {
		res := do(t, router, http.MethodPost, "/attestations", map[string]interface{}{
			"attester_id": fmt.Sprintf("attester-%d", i+1),
			"qc_id":       "qc-1",
			"balance":     balance,
			"timestamp":   now,
		})
		if res.Code != http.StatusCreated {
			t.Fatalf("expected 201 for attestation, got %d, body: %s", res.Code, res.Body.String())
		}
	}

	res := do(t, router, http.MethodGet, "/qcs/qc-1/consensus", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var consensus struct {
		Value   uint64 `json:"value"`
		IsStale bool   `json:"is_stale"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &consensus); err != nil {
		t.Fatalf("decode consensus: %v", err)
	}
	if consensus.Value != 1000 {
		t.Fatalf("expected median 1000, got %d", consensus.Value)
	}
	if consensus.IsStale {
		t.Fatalf("expected fresh consensus")
	}
}

func TestAttestation_Unauthorized(t *testing.T) {
	router := testServer(t)
	registerQC(t, router)

	res := do(t, router, http.MethodPost, "/attestations", map[string]interface{}{
		"attester_id": "mallory",
		"qc_id":       "qc-1",
		"balance":     1000,
		"timestamp":   time.Now().UnixMilli(),
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestReserveCheck_ViolationAndNoOp(t *testing.T) {
	router := testServer(t)
	registerQC(t, router)

	res := do(t, router, http.MethodPost, "/qcs/qc-1/mint", map[string]interface{}{
		"caller_id": "token-bridge",
		"amount":    1000,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 minting, got %d, body: %s", res.Code, res.Body.String())
	}

	now := time.Now().UnixMilli()
	for i, balance := range []uint64{500, 800, 1010} {
		do(t, router, http.MethodPost, "/attestations", map[string]interface{}{
			"attester_id": fmt.Sprintf("attester-%d", i+1),
			"qc_id":       "qc-1",
			"balance":     balance,
			"timestamp":   now,
		})
	}

	// Median 800 covers only 80% of minted 1000; below the 90% ratio.
	res = do(t, router, http.MethodPost, "/qcs/qc-1/checks/reserves", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var check struct {
		Violation string `json:"violation"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode check: %v", err)
	}
	if check.Violation != "INSUFFICIENT_RESERVES" {
		t.Fatalf("expected INSUFFICIENT_RESERVES, got %q", check.Violation)
	}

	// The racing second caller gets a clean 200, never a failure.
	res = do(t, router, http.MethodPost, "/qcs/qc-1/checks/reserves", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for redundant check, got %d", res.Code)
	}

	var qc struct {
		Status string `json:"status"`
	}
	res = do(t, router, http.MethodGet, "/qcs/qc-1", nil)
	if err := json.Unmarshal(res.Body.Bytes(), &qc); err != nil {
		t.Fatalf("decode qc: %v", err)
	}
	if qc.Status != "UNDER_REVIEW" {
		t.Fatalf("expected UNDER_REVIEW, got %q", qc.Status)
	}
}

func TestObservationLifecycle(t *testing.T) {
	router := testServer(t)
	registerQC(t, router)

	res := do(t, router, http.MethodPost, "/observations", map[string]interface{}{
		"reporter_id": "watchdog-1",
		"target_qc":   "qc-1",
		"category":    "COMPLIANCE_QUESTION",
		"description": "reporting cadence slipped",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body: %s", res.Code, res.Body.String())
	}
	var created struct {
		Observation struct {
			ID        string `json:"id"`
			Escalated bool   `json:"escalated"`
		} `json:"observation"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode observation: %v", err)
	}
	if created.Observation.Escalated {
		t.Fatalf("compliance question must not escalate on report")
	}

	obsID := created.Observation.ID
	res = do(t, router, http.MethodPost, "/observations/"+obsID+"/support", map[string]interface{}{
		"reporter_id": "watchdog-2",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 supporting, got %d, body: %s", res.Code, res.Body.String())
	}

	var obs struct {
		Escalated  bool   `json:"escalated"`
		Resolution string `json:"resolution"`
		ProposalID string `json:"proposal_id"`
	}
	res = do(t, router, http.MethodGet, "/observations/"+obsID, nil)
	if err := json.Unmarshal(res.Body.Bytes(), &obs); err != nil {
		t.Fatalf("decode observation: %v", err)
	}
	if !obs.Escalated || obs.Resolution != "UNDER_REVIEW" || obs.ProposalID == "" {
		t.Fatalf("expected escalated observation under review with proposal, got %+v", obs)
	}

	// Only governance may resolve.
	res = do(t, router, http.MethodPost, "/observations/"+obsID+"/resolve", map[string]interface{}{
		"caller_id":  "watchdog-1",
		"resolution": "NO_ACTION_NEEDED",
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}

	res = do(t, router, http.MethodPost, "/observations/"+obsID+"/resolve", map[string]interface{}{
		"caller_id":  "council",
		"resolution": "NO_ACTION_NEEDED",
		"notes":      "cadence restored",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 resolving, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestWalletLifecycleOverHTTP(t *testing.T) {
	router := testServer(t)
	registerQC(t, router)

	res := do(t, router, http.MethodPost, "/wallets", map[string]interface{}{
		"qc_id":   "qc-1",
		"address": "bc1qwallet",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body: %s", res.Code, res.Body.String())
	}

	res = do(t, router, http.MethodPost, "/wallets/bc1qwallet/deregister", map[string]interface{}{
		"caller_id": "qc-1",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	// Nothing minted, so the solvency gate passes.
	res = do(t, router, http.MethodPost, "/wallets/bc1qwallet/deregister/finalize", map[string]interface{}{
		"caller_id": "qc-1",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 finalizing, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestUnknownQC_NotFound(t *testing.T) {
	router := testServer(t)

	res := do(t, router, http.MethodGet, "/qcs/qc-ghost", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res = do(t, router, http.MethodPost, "/qcs/qc-ghost/checks/reserves", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestMint_UnauthorizedCaller(t *testing.T) {
	router := testServer(t)
	registerQC(t, router)

	res := do(t, router, http.MethodPost, "/qcs/qc-1/mint", map[string]interface{}{
		"caller_id": "mallory",
		"amount":    1000,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 minting as non-token caller, got %d, body: %s", res.Code, res.Body.String())
	}

	res = do(t, router, http.MethodPost, "/qcs/qc-1/burn", map[string]interface{}{
		"caller_id": "mallory",
		"amount":    1000,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 burning as non-token caller, got %d", res.Code)
	}

	res = do(t, router, http.MethodPost, "/redemptions", map[string]interface{}{
		"caller_id":     "mallory",
		"qc_id":         "qc-1",
		"redemption_id": "red-1",
		"amount":        100,
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 filing redemption as non-token caller, got %d", res.Code)
	}
}

func TestWalletDeregistration_UnauthorizedCaller(t *testing.T) {
	router := testServer(t)
	registerQC(t, router)

	res := do(t, router, http.MethodPost, "/wallets", map[string]interface{}{
		"qc_id":   "qc-1",
		"address": "bc1qwallet",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body: %s", res.Code, res.Body.String())
	}

	// Only the owning QC may move its wallet.
	res = do(t, router, http.MethodPost, "/wallets/bc1qwallet/deregister", map[string]interface{}{
		"caller_id": "qc-other",
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d, body: %s", res.Code, res.Body.String())
	}

	// The rejected request left the wallet active; the owner can still ask.
	res = do(t, router, http.MethodPost, "/wallets/bc1qwallet/deregister", map[string]interface{}{
		"caller_id": "qc-1",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for the owner, got %d, body: %s", res.Code, res.Body.String())
	}
}
