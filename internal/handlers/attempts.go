package handlers

import (
	"net/http"
	"time"

	"anonfeedback-backend/internal/flow"
	"anonfeedback-backend/internal/middleware"
	"anonfeedback-backend/internal/wallet"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// AttemptHandler exposes the feedback flow. Every route except StartAttempt
// runs behind middleware.AttemptAuth and acts on the attempt named in the token.
type AttemptHandler struct {
	ctrl      *flow.Controller
	jwtSecret string
	tokenTTL  time.Duration
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewAttemptHandler(ctrl *flow.Controller, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AttemptHandler {
	return &AttemptHandler{
		ctrl:      ctrl,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		validate:  validator.New(),
		logger:    logger,
	}
}

type StartAttemptResponse struct {
	Token   string        `json:"token"`
	Attempt flow.Snapshot `json:"attempt"`
}

type UpdateTextRequest struct {
	Content string `json:"content" validate:"max=5000"`
}

type ConnectWalletRequest struct {
	Connector string `json:"connector"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type ReportTxRequest struct {
	TxHash string `json:"txHash" validate:"required"`
}

func (h *AttemptHandler) attemptID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetAttemptID(r.Context())
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return "", false
	}
	return id, true
}

func (h *AttemptHandler) reply(w http.ResponseWriter, snap flow.Snapshot, err error) {
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- POST /api/rounds/{roundID}/attempts ---

func (h *AttemptHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctrl.Start(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, err := middleware.IssueAttemptToken(h.jwtSecret, snap.ID, snap.RoundID, h.tokenTTL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartAttemptResponse{Token: token, Attempt: snap})
}

// --- GET /api/attempts/me ---

func (h *AttemptHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	snap, err := h.ctrl.Get(id)
	h.reply(w, snap, err)
}

// --- PUT /api/attempts/me/text ---

func (h *AttemptHandler) UpdateText(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	var req UpdateTextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	snap, err := h.ctrl.Compose(id, req.Content)
	h.reply(w, snap, err)
}

// --- POST /api/attempts/me/submit ---

func (h *AttemptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	snap, err := h.ctrl.Submit(id)
	h.reply(w, snap, err)
}

// --- GET /api/attempts/me/wallet/challenge ---

func (h *AttemptHandler) WalletChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	msg, err := h.ctrl.Challenge(id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// --- POST /api/attempts/me/wallet ---

func (h *AttemptHandler) ConnectWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	var req ConnectWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	snap, err := h.ctrl.ConnectWallet(id, req.Connector, wallet.Proof{
		Address:   req.Address,
		Signature: req.Signature,
	})
	h.reply(w, snap, err)
}

// --- POST /api/attempts/me/payment ---

func (h *AttemptHandler) Pay(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	snap, err := h.ctrl.Pay(r.Context(), id)
	h.reply(w, snap, err)
}

// --- POST /api/attempts/me/payment/tx ---

func (h *AttemptHandler) ReportTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	var req ReportTxRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	snap, err := h.ctrl.ReportTransaction(r.Context(), id, req.TxHash)
	h.reply(w, snap, err)
}

// --- POST /api/attempts/me/retry ---

func (h *AttemptHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	snap, err := h.ctrl.Retry(r.Context(), id)
	h.reply(w, snap, err)
}
