package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"anonfeedback-backend/internal/flow"
	"anonfeedback-backend/internal/metrics"
	"anonfeedback-backend/internal/notify"
	"anonfeedback-backend/internal/payment"
	"anonfeedback-backend/internal/repository"
	"anonfeedback-backend/internal/store"
	"anonfeedback-backend/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret  = "test-secret"
	hookSecret  = "hook-secret"
	payerWallet = "0x00000000000000000000000000000000000000aa"
)

type testServer struct {
	handler http.Handler
	backend *store.MemoryBackend
	repo    *repository.RoundRepo
}

func newTestServer(t *testing.T, widgetAppID string) *testServer {
	t.Helper()
	return newTestServerWithHookSecret(t, widgetAppID, hookSecret)
}

func newTestServerWithHookSecret(t *testing.T, widgetAppID, secret string) *testServer {
	t.Helper()
	logger := zap.NewNop()
	backend := store.NewMemoryBackend()
	repo := repository.NewRoundRepo(store.New(backend, logger))
	m := metrics.New(prometheus.NewRegistry())

	asset := payment.Asset{ChainID: 8453, Token: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6}
	widget := payment.NewWidgetProvider(widgetAppID, asset, logger)
	wallets, err := wallet.NewRegistry(wallet.InjectedName, wallet.FrameName)
	require.NoError(t, err)

	ctrl := flow.NewController(repo, widget, wallets, notify.NewLogNotifier(logger), m, logger, flow.Config{
		Cost:        big.NewInt(1_000_000),
		Destination: common.HexToAddress("0x32e3C7fD24e175701A35c224f2238d18439C7dBC"),
		AttemptTTL:  time.Hour,
	})

	rounds := NewRoundHandler(repo, Links{BaseURL: "https://fb.test", ComposeURL: "https://warpcast.com/~/compose"}, m, logger)
	return &testServer{
		handler: NewRouter(RouterConfig{
			Rounds:    rounds,
			Attempts:  NewAttemptHandler(ctrl, testSecret, time.Hour, logger),
			Views:     NewViewHandler(rounds, "1.00", logger),
			Webhook:   NewWebhookHandler(widget, secret, logger),
			JWTSecret: testSecret,
			Logger:    logger,
		}),
		backend: backend,
		repo:    repo,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) hook(t *testing.T, secret string, cb payment.WidgetCallback) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(cb)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/widget/events", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Secret", secret)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createRound(t *testing.T, prompt, link string) RoundResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/rounds", "", CreateRoundRequest{Prompt: prompt, ContentLink: link})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[RoundResponse](t, rec)
}

func TestCreateAndGetRound(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	created := s.createRound(t, "What do you think of my design?", "")

	assert.NotEmpty(t, created.Round.ID)
	assert.Empty(t, created.Round.Feedback)
	assert.Equal(t, "https://fb.test/feedback/"+created.Round.ID, created.FeedbackURL)

	share, err := url.Parse(created.ShareURL)
	require.NoError(t, err)
	assert.Equal(t, "warpcast.com", share.Host)
	assert.Contains(t, share.Query().Get("text"), "What do you think of my design?")
	assert.Contains(t, share.Query().Get("text"), created.FeedbackURL)
	assert.Equal(t, created.FeedbackURL, share.Query().Get("embeds[]"))

	rec := s.do(t, http.MethodGet, "/api/rounds/"+created.Round.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[RoundResponse](t, rec)
	assert.Equal(t, created.Round, got.Round)
}

func TestCreateRound_Validation(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	for _, req := range []CreateRoundRequest{
		{Prompt: ""},
		{Prompt: "   "},
		{Prompt: "ok", ContentLink: "not a url"},
	} {
		rec := s.do(t, http.MethodPost, "/api/rounds", "", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, req)
	}
	assert.Nil(t, s.backend.Raw())

	req := httptest.NewRequest(http.MethodPost, "/api/rounds", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRound_NotFound(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	rec := s.do(t, http.MethodGet, "/api/rounds/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/rounds/nope/attempts", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedbackFlow_WidgetPayment(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	created := s.createRound(t, "What do you think of my design?", "")

	rec := s.do(t, http.MethodPost, "/api/rounds/"+created.Round.ID+"/attempts", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	start := decode[StartAttemptResponse](t, rec)
	token := start.Token
	assert.Equal(t, flow.Composing, start.Attempt.State)

	rec = s.do(t, http.MethodPost, "/api/attempts/me/submit", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty text is rejected")

	rec = s.do(t, http.MethodPut, "/api/attempts/me/text", token, UpdateTextRequest{Content: "Looks great!"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/attempts/me/submit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, flow.AwaitingWalletConnection, decode[flow.Snapshot](t, rec).State)

	rec = s.do(t, http.MethodPost, "/api/attempts/me/payment", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "payment before wallet")

	rec = s.do(t, http.MethodPost, "/api/attempts/me/wallet", token, ConnectWalletRequest{Connector: "frame", Address: payerWallet})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[flow.Snapshot](t, rec)
	assert.Equal(t, flow.AwaitingPayment, snap.State)
	assert.Equal(t, common.HexToAddress(payerWallet).Hex(), snap.Wallet.Address)

	rec = s.do(t, http.MethodPost, "/api/attempts/me/payment", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decode[flow.Snapshot](t, rec)
	require.NotNil(t, snap.Payment)
	require.NotNil(t, snap.Payment.Widget)
	assert.Equal(t, "1.000000", snap.Payment.Widget.ToUnits)

	rec = s.do(t, http.MethodPost, "/api/attempts/me/payment/tx", token, ReportTxRequest{TxHash: "0xabc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "widget pathway takes no reported hash")

	rec = s.hook(t, hookSecret, payment.WidgetCallback{PaymentID: snap.Payment.ID, Type: "started", TxHash: "0xfeed"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.hook(t, hookSecret, payment.WidgetCallback{PaymentID: snap.Payment.ID, Type: "completed", TxHash: "0xfeed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/attempts/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decode[flow.Snapshot](t, rec)
	assert.Equal(t, flow.Submitted, snap.State)
	require.Len(t, snap.Round.Feedback, 1)
	assert.Equal(t, "Looks great!", snap.Round.Feedback[0].Content)

	round, err := s.repo.FindByID(context.Background(), created.Round.ID)
	require.NoError(t, err)
	require.Len(t, round.Feedback, 1)

	rec = s.do(t, http.MethodGet, "/feedback/"+created.Round.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Looks great!")
	assert.Contains(t, rec.Body.String(), "What do you think of my design?")
	assert.Contains(t, rec.Body.String(), `<form id="feedback-form" data-round-id="`+created.Round.ID+`">`)
	assert.Contains(t, rec.Body.String(), "/api/attempts/me/payment")
}

func TestPaymentFailure_RetryKeepsText(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	created := s.createRound(t, "prompt", "")
	start := decode[StartAttemptResponse](t, s.do(t, http.MethodPost, "/api/rounds/"+created.Round.ID+"/attempts", "", nil))
	token := start.Token

	s.do(t, http.MethodPost, "/api/attempts/me/wallet", token, ConnectWalletRequest{Connector: "frame", Address: payerWallet})
	s.do(t, http.MethodPut, "/api/attempts/me/text", token, UpdateTextRequest{Content: "draft"})
	s.do(t, http.MethodPost, "/api/attempts/me/submit", token, nil)
	snap := decode[flow.Snapshot](t, s.do(t, http.MethodPost, "/api/attempts/me/payment", token, nil))

	s.hook(t, hookSecret, payment.WidgetCallback{PaymentID: snap.Payment.ID, Type: "failed", Reason: "insufficient balance"})

	snap = decode[flow.Snapshot](t, s.do(t, http.MethodGet, "/api/attempts/me", token, nil))
	assert.Equal(t, flow.Failed, snap.State)
	assert.Equal(t, "draft", snap.Text)

	rec := s.do(t, http.MethodPost, "/api/attempts/me/retry", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, flow.AwaitingPayment, decode[flow.Snapshot](t, rec).State)
}

func TestPay_ProviderUnavailable(t *testing.T) {
	s := newTestServer(t, "")
	created := s.createRound(t, "prompt", "")
	token := decode[StartAttemptResponse](t, s.do(t, http.MethodPost, "/api/rounds/"+created.Round.ID+"/attempts", "", nil)).Token

	s.do(t, http.MethodPut, "/api/attempts/me/text", token, UpdateTextRequest{Content: "hi"})
	s.do(t, http.MethodPost, "/api/attempts/me/submit", token, nil)
	s.do(t, http.MethodPost, "/api/attempts/me/wallet", token, ConnectWalletRequest{Connector: "frame", Address: payerWallet})

	rec := s.do(t, http.MethodPost, "/api/attempts/me/payment", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAttemptRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	rec := s.do(t, http.MethodGet, "/api/attempts/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/attempts/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWalletChallenge(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	created := s.createRound(t, "prompt", "")
	start := decode[StartAttemptResponse](t, s.do(t, http.MethodPost, "/api/rounds/"+created.Round.ID+"/attempts", "", nil))

	rec := s.do(t, http.MethodGet, "/api/attempts/me/wallet/challenge", start.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wallet.Challenge(start.Attempt.ID), decode[map[string]string](t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/api/attempts/me/wallet", start.Token, ConnectWalletRequest{Connector: "injected", Signature: "0x00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t, "pay-demo")

	rec := s.hook(t, "wrong", payment.WidgetCallback{PaymentID: "x", Type: "completed"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.hook(t, hookSecret, payment.WidgetCallback{PaymentID: "x", Type: "completed"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode[map[string]string](t, rec)["status"])

	rec = s.hook(t, hookSecret, payment.WidgetCallback{PaymentID: "x", Type: "refunded"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// awaitingWidget drives a new attempt to AwaitingPayment and returns its token
// and widget payment id.
func (s *testServer) awaitingWidget(t *testing.T, roundID, text string) (string, string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/rounds/"+roundID+"/attempts", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decode[StartAttemptResponse](t, rec).Token

	s.do(t, http.MethodPut, "/api/attempts/me/text", token, UpdateTextRequest{Content: text})
	s.do(t, http.MethodPost, "/api/attempts/me/submit", token, nil)
	s.do(t, http.MethodPost, "/api/attempts/me/wallet", token, ConnectWalletRequest{Connector: "frame", Address: payerWallet})
	rec = s.do(t, http.MethodPost, "/api/attempts/me/payment", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[flow.Snapshot](t, rec)
	require.NotNil(t, snap.Payment)
	return token, snap.Payment.ID
}

func TestWebhook_RejectsUnsignedCallbacks(t *testing.T) {
	tests := []struct {
		name         string
		serverSecret string
		sent         string
	}{
		{"no secret configured", "", ""},
		{"no secret configured, header sent", "", "anything"},
		{"header missing", hookSecret, ""},
		{"header wrong", hookSecret, "guess"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServerWithHookSecret(t, "pay-demo", tt.serverSecret)
			created := s.createRound(t, "prompt", "")
			token, paymentID := s.awaitingWidget(t, created.Round.ID, "unpaid")

			rec := s.hook(t, tt.sent, payment.WidgetCallback{PaymentID: paymentID, Type: "completed"})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			snap := decode[flow.Snapshot](t, s.do(t, http.MethodGet, "/api/attempts/me", token, nil))
			assert.Equal(t, flow.AwaitingPayment, snap.State)
			round, err := s.repo.FindByID(context.Background(), created.Round.ID)
			require.NoError(t, err)
			assert.Empty(t, round.Feedback)
		})
	}
}

func TestWebhook_CompletedSettlesOnlyItsOwnAttempt(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	created := s.createRound(t, "prompt", "")
	payerToken, paidID := s.awaitingWidget(t, created.Round.ID, "paid")
	otherToken, _ := s.awaitingWidget(t, created.Round.ID, "not paid")

	rec := s.hook(t, hookSecret, payment.WidgetCallback{PaymentID: paidID, Type: "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.hook(t, hookSecret, payment.WidgetCallback{PaymentID: paidID, Type: "completed"})
	assert.Equal(t, "ignored", decode[map[string]string](t, rec)["status"], "payment id is single use")

	paid := decode[flow.Snapshot](t, s.do(t, http.MethodGet, "/api/attempts/me", payerToken, nil))
	assert.Equal(t, flow.Submitted, paid.State)
	other := decode[flow.Snapshot](t, s.do(t, http.MethodGet, "/api/attempts/me", otherToken, nil))
	assert.Equal(t, flow.AwaitingPayment, other.State)

	round, err := s.repo.FindByID(context.Background(), created.Round.ID)
	require.NoError(t, err)
	require.Len(t, round.Feedback, 1)
	assert.Equal(t, "paid", round.Feedback[0].Content)
}

func TestViews(t *testing.T) {
	s := newTestServer(t, "pay-demo")

	for _, path := range []string{"/", "/about", "/feedback/"} {
		rec := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "Create Round", path)
	}

	rec := s.do(t, http.MethodGet, "/feedback/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Round not found.")
	assert.Nil(t, s.backend.Raw(), "lookup must not write the store")
}

func TestViews_ResolvesEncodedRoundID(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	s.backend.Put([]byte(`[
		{"id":"v%41","prompt":"escaped id","contentLink":"","createdAt":1,"feedback":[]},
		{"id":"vA","prompt":"plain id","contentLink":"","createdAt":2,"feedback":[]}
	]`))

	rec := s.do(t, http.MethodGet, "/feedback/v%2541", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "escaped id")
	assert.NotContains(t, rec.Body.String(), "plain id")

	rec = s.do(t, http.MethodGet, "/feedback/vA", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "plain id")
}

func TestViews_FormCreatesRound(t *testing.T) {
	s := newTestServer(t, "pay-demo")

	form := url.Values{"prompt": {"<b>Rate my talk</b>"}, "contentLink": {"https://example.com/talk"}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "&lt;b&gt;Rate my talk&lt;/b&gt;")
	rounds := s.repo.List(context.Background())
	require.Len(t, rounds, 1)
	assert.Equal(t, "https://example.com/talk", rounds[0].ContentLink)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("prompt=+++"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "pay-demo")
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"anonfeedback-backend"}`, rec.Body.String())
}
