package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/service"
	"github.com/opensource-finance/kestrel/internal/verify"
)

// newTestServer creates a server backed by a temporary SQLite repository.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	scoringCfg := domain.ScoringConfig{
		HomeCountry:        "GH",
		VelocityWindowSecs: 3600,
		VelocityThreshold:  5,
	}
	engine, err := scoring.NewEngine(scoringCfg, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	machine := verify.NewMachine(verify.NewMemoryStore(), repo, nil)
	svc := service.New(engine, machine, repo, nil, nil, scoringCfg)

	return NewServer(cfg, svc, repo, nil, "test-v1")
}

func postJSON(t *testing.T, server *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEvaluateEndpoint(t *testing.T) {
	server := newTestServer(t)

	t.Run("LowRiskTransaction", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
			UserID:   "user-001",
			Amount:   500,
			Currency: "GHS",
			Merchant: "Accra Mall",
			Channel:  domain.ChannelMobile,
			Country:  "GH",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Transaction == nil || resp.Transaction.ID == "" {
			t.Fatal("expected transaction with assigned ID")
		}
		// Local currency, known merchant, mobile channel: at most the
		// off-hours bonus applies, which cannot reach the challenge band.
		if resp.Risk.Decision != domain.DecisionAllow {
			t.Errorf("expected ALLOW, got %s (score %d)", resp.Risk.Decision, resp.Risk.Score)
		}
		if resp.Session != nil {
			t.Error("expected no session for allowed transaction")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("ChallengeOpensSession", func(t *testing.T) {
		// Foreign country (+35) and API channel (+15) land in the challenge
		// band at any hour of day.
		rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
			UserID:   "user-002",
			Amount:   2000,
			Currency: "USD",
			Merchant: "Accra Mall",
			Channel:  domain.ChannelAPI,
			Country:  "US",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Risk.Decision != domain.DecisionChallenge {
			t.Fatalf("expected CHALLENGE, got %s (score %d)", resp.Risk.Decision, resp.Risk.Score)
		}
		if resp.Session == nil {
			t.Fatal("expected verification session for challenged transaction")
		}
		if resp.Session.Status != domain.SessionActive {
			t.Errorf("expected active session, got %s", resp.Session.Status)
		}
		if len(resp.Session.Steps) < 2 {
			t.Errorf("expected at least 2 verification steps, got %d", len(resp.Session.Steps))
		}
		if resp.Transaction.Status != domain.TxPending {
			t.Errorf("expected pending transaction, got %s", resp.Transaction.Status)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingUserID", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
			Amount:   100,
			Currency: "GHS",
			Channel:  domain.ChannelMobile,
			Country:  "GH",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
			UserID:   "user-001",
			Amount:   -100,
			Currency: "GHS",
			Channel:  domain.ChannelMobile,
			Country:  "GH",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
			UserID:   "user-001",
			Amount:   100,
			Currency: "GHS",
			Channel:  domain.Channel("telegraph"),
			Country:  "GH",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("BadCurrency", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
			UserID:   "user-001",
			Amount:   100,
			Currency: "CEDIS",
			Channel:  domain.ChannelMobile,
			Country:  "GH",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("AsyncWithoutBus", func(t *testing.T) {
		// The test server runs without an event bus, so async ingestion
		// is reported unavailable.
		rr := postJSON(t, server, "/transactions?async=true", domain.TransactionRequest{
			UserID:   "user-001",
			Amount:   100,
			Currency: "GHS",
			Channel:  domain.ChannelMobile,
			Country:  "GH",
		})
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
			UserID:   "user-001",
			Amount:   100,
			Currency: "GHS",
			Channel:  domain.ChannelMobile,
			Country:  "GH",
		})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestGetTransactionEndpoint(t *testing.T) {
	server := newTestServer(t)

	rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
		UserID:   "user-010",
		Amount:   250,
		Currency: "GHS",
		Merchant: "Accra Mall",
		Channel:  domain.ChannelMobile,
		Country:  "GH",
	})
	var resp EvaluateResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)

	t.Run("Found", func(t *testing.T) {
		rr := get(t, server, "/transactions/"+resp.Transaction.ID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var tx domain.Transaction
		if err := json.Unmarshal(rr.Body.Bytes(), &tx); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if tx.UserID != "user-010" {
			t.Errorf("expected userID 'user-010', got '%s'", tx.UserID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := get(t, server, "/transactions/no-such-tx")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRequirementsEndpoint(t *testing.T) {
	server := newTestServer(t)

	t.Run("CriticalTier", func(t *testing.T) {
		rr := get(t, server, "/verification/requirements?score=85")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Methods     []domain.Method  `json:"methods"`
			TimeoutSecs int              `json:"timeoutSeconds"`
			RiskLevel   domain.RiskLevel `json:"riskLevel"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.RiskLevel != domain.RiskCritical {
			t.Errorf("expected critical tier, got %s", resp.RiskLevel)
		}
		if len(resp.Methods) != 4 {
			t.Errorf("expected 4 methods, got %d", len(resp.Methods))
		}
		if resp.TimeoutSecs != 600 {
			t.Errorf("expected 600s timeout, got %d", resp.TimeoutSecs)
		}
	})

	t.Run("MissingScore", func(t *testing.T) {
		rr := get(t, server, "/verification/requirements")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NonNumericScore", func(t *testing.T) {
		rr := get(t, server, "/verification/requirements?score=lots")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("OutOfRangeScore", func(t *testing.T) {
		rr := get(t, server, "/verification/requirements?score=150")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

// challengeSession drives a CHALLENGE evaluation and returns the session.
func challengeSession(t *testing.T, server *Server, userID string) *domain.VerificationSession {
	t.Helper()

	rr := postJSON(t, server, "/transactions", domain.TransactionRequest{
		UserID:   userID,
		Amount:   2000,
		Currency: "USD",
		Merchant: "Accra Mall",
		Channel:  domain.ChannelAPI,
		Country:  "US",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("evaluation failed: %d %s", rr.Code, rr.Body.String())
	}

	var resp EvaluateResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Session == nil {
		t.Fatalf("expected challenge session, got decision %s", resp.Risk.Decision)
	}
	return resp.Session
}

func TestSessionEndpoints(t *testing.T) {
	server := newTestServer(t)

	t.Run("GetSession", func(t *testing.T) {
		session := challengeSession(t, server, "user-020")

		rr := get(t, server, "/verification/sessions/"+session.ID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var got domain.VerificationSession
		json.Unmarshal(rr.Body.Bytes(), &got)
		if got.ID != session.ID {
			t.Errorf("expected session %s, got %s", session.ID, got.ID)
		}
	})

	t.Run("GetSessionNotFound", func(t *testing.T) {
		rr := get(t, server, "/verification/sessions/no-such-session")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("SubmitStep", func(t *testing.T) {
		session := challengeSession(t, server, "user-021")

		rr := postJSON(t, server, "/verification/sessions/"+session.ID+"/steps", SubmitStepRequest{
			Method:  domain.MethodSMSCode,
			Payload: json.RawMessage(`{"code":"123456"}`),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp SubmitStepResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Outcome.Success {
			t.Errorf("expected successful step, got %v: %v", resp.Outcome.Result, resp.Outcome.Reasons)
		}
	})

	t.Run("SubmitStepRejectsBadPayload", func(t *testing.T) {
		session := challengeSession(t, server, "user-022")

		rr := postJSON(t, server, "/verification/sessions/"+session.ID+"/steps", SubmitStepRequest{
			Method:  domain.MethodSMSCode,
			Payload: json.RawMessage(`{"code":"12"}`),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp SubmitStepResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Outcome.Success {
			t.Error("expected step rejection for short code")
		}
		if len(resp.Outcome.Reasons) == 0 {
			t.Error("expected rejection reasons")
		}
	})

	t.Run("SubmitStepMissingMethod", func(t *testing.T) {
		session := challengeSession(t, server, "user-023")

		rr := postJSON(t, server, "/verification/sessions/"+session.ID+"/steps", SubmitStepRequest{
			Payload: json.RawMessage(`{"code":"123456"}`),
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("SubmitStepSessionNotFound", func(t *testing.T) {
		rr := postJSON(t, server, "/verification/sessions/no-such-session/steps", SubmitStepRequest{
			Method:  domain.MethodSMSCode,
			Payload: json.RawMessage(`{"code":"123456"}`),
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Progress", func(t *testing.T) {
		session := challengeSession(t, server, "user-024")

		rr := get(t, server, "/verification/sessions/"+session.ID+"/progress")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var progress domain.Progress
		json.Unmarshal(rr.Body.Bytes(), &progress)
		if progress.PercentComplete != 0 {
			t.Errorf("expected 0%% complete, got %d", progress.PercentComplete)
		}
		if len(progress.RemainingMethods) != len(session.Steps) {
			t.Errorf("expected %d remaining methods, got %d", len(session.Steps), len(progress.RemainingMethods))
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		session := challengeSession(t, server, "user-025")

		rr := postJSON(t, server, "/verification/sessions/"+session.ID+"/cancel", CancelSessionRequest{
			Reason: "user abandoned checkout",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		rr = get(t, server, "/verification/sessions/"+session.ID)
		var got domain.VerificationSession
		json.Unmarshal(rr.Body.Bytes(), &got)
		if got.Status != domain.SessionFailed {
			t.Errorf("expected failed session after cancel, got %s", got.Status)
		}

		// The underlying transaction is marked cancelled.
		rr = get(t, server, "/transactions/"+session.TransactionID)
		var tx domain.Transaction
		json.Unmarshal(rr.Body.Bytes(), &tx)
		if tx.Status != domain.TxCancelled {
			t.Errorf("expected cancelled transaction, got %s", tx.Status)
		}
	})

	t.Run("CancelNotFound", func(t *testing.T) {
		rr := postJSON(t, server, "/verification/sessions/no-such-session/cancel", CancelSessionRequest{})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestAttemptsEndpoint(t *testing.T) {
	server := newTestServer(t)

	session := challengeSession(t, server, "user-030")
	postJSON(t, server, "/verification/sessions/"+session.ID+"/steps", SubmitStepRequest{
		Method:  domain.MethodSMSCode,
		Payload: json.RawMessage(`{"code":"123456"}`),
	})

	rr := get(t, server, "/verification/attempts?userId=user-030")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Attempts []*domain.VerificationAttempt `json:"attempts"`
		Count    int                           `json:"count"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	if resp.Count != 1 {
		t.Fatalf("expected 1 attempt, got %d", resp.Count)
	}
	if resp.Attempts[0].Method != domain.MethodSMSCode {
		t.Errorf("expected SMS_CODE attempt, got %s", resp.Attempts[0].Method)
	}

	rr = get(t, server, "/verification/attempts?userId=somebody-else")
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Count != 0 {
		t.Errorf("expected no attempts for other user, got %d", resp.Count)
	}
}

func TestFactorEndpoints(t *testing.T) {
	server := newTestServer(t)

	t.Run("CreateFactor", func(t *testing.T) {
		rr := postJSON(t, server, "/factors", CreateFactorRequest{
			ID:         "eur-high-value",
			Name:       "High Value EUR",
			Expression: `currency == "EUR" && amount > 1000.0`,
			Points:     10,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ListFactors", func(t *testing.T) {
		rr := get(t, server, "/factors")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Factors []*domain.RiskFactorConfig `json:"factors"`
			Count   int                        `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Fatalf("expected 1 factor, got %d", resp.Count)
		}
		if resp.Factors[0].ID != "eur-high-value" {
			t.Errorf("expected factor 'eur-high-value', got '%s'", resp.Factors[0].ID)
		}
	})

	t.Run("RejectsInvalidExpression", func(t *testing.T) {
		rr := postJSON(t, server, "/factors", CreateFactorRequest{
			ID:         "broken",
			Name:       "Broken",
			Expression: "amount >",
			Points:     5,
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RejectsMissingFields", func(t *testing.T) {
		rr := postJSON(t, server, "/factors", CreateFactorRequest{ID: "x"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := postJSON(t, server, "/factors/reload", struct{}{})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 factor after reload, got %d", resp.Count)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := get(t, server, "/health")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := get(t, server, "/ready")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
