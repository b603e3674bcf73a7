package handlers

import (
	"net/http"

	"anonfeedback-backend/internal/metrics"
	"anonfeedback-backend/internal/models"
	"anonfeedback-backend/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type RoundHandler struct {
	roundRepo *repository.RoundRepo
	links     Links
	metrics   *metrics.Metrics
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewRoundHandler(roundRepo *repository.RoundRepo, links Links, m *metrics.Metrics, logger *zap.Logger) *RoundHandler {
	return &RoundHandler{
		roundRepo: roundRepo,
		links:     links,
		metrics:   m,
		validate:  validator.New(),
		logger:    logger,
	}
}

type CreateRoundRequest struct {
	Prompt      string `json:"prompt" validate:"required,max=2000"`
	ContentLink string `json:"contentLink" validate:"omitempty,url"`
}

type RoundResponse struct {
	Round       models.Round `json:"round"`
	FeedbackURL string       `json:"feedbackUrl"`
	ShareURL    string       `json:"shareUrl"`
}

func (h *RoundHandler) respond(r *http.Request, round models.Round) RoundResponse {
	feedbackURL := h.links.FeedbackURL(r, round.ID)
	return RoundResponse{
		Round:       round,
		FeedbackURL: feedbackURL,
		ShareURL:    h.links.ShareURL(round.Prompt, feedbackURL),
	}
}

// create is shared by the JSON API and the HTML form.
func (h *RoundHandler) create(r *http.Request, req CreateRoundRequest) (models.Round, error) {
	if err := h.validate.Struct(req); err != nil {
		return models.Round{}, err
	}
	round, err := h.roundRepo.Create(r.Context(), req.Prompt, req.ContentLink)
	if err != nil {
		return models.Round{}, err
	}
	h.metrics.RoundsCreated.Inc()
	h.logger.Info("round created", zap.String("round_id", round.ID))
	return round, nil
}

// --- POST /api/rounds ---

func (h *RoundHandler) CreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	round, err := h.create(r, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.respond(r, round))
}

// --- GET /api/rounds/{roundID} ---

func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.roundRepo.FindByID(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.respond(r, round))
}
