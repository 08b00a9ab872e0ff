package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/botlog"
	"github.com/xela07ax/neurohost/internal/console/service"
	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/infra/auth"
	"github.com/xela07ax/neurohost/internal/orchestrator"
)

type BotHandler struct {
	service *service.BotService
	logger  *zap.Logger
}

func NewBotHandler(s *service.BotService, logger *zap.Logger) *BotHandler {
	return &BotHandler{service: s, logger: logger.Named("bot-handler")}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError переводит доменную таксономию ошибок в HTTP статусы
func (h *BotHandler) writeError(w http.ResponseWriter, err error) {
	var launchErr *domain.LaunchError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrPermissionDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrSleeping):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrLaunchInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrResourceExhausted):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrPlanLimitExceeded):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrRecoveryUnavailable):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.As(err, &launchErr):
		h.logger.Error("launch failed", zap.String("bot_id", launchErr.BotID), zap.Error(launchErr.Cause))
		http.Error(w, "launch failed", http.StatusBadGateway)
	case errors.Is(err, domain.ErrBackendUnavailable):
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerIDFromContext(r.Context())
	bots, err := h.service.Orch.List(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Entrypoint == "" || req.Name == "" {
		http.Error(w, "name and entrypoint are required", http.StatusBadRequest)
		return
	}
	if req.Backend == "" {
		req.Backend = domain.BackendProcess
	}

	ownerID := auth.OwnerIDFromContext(r.Context())
	bot, err := h.service.Orch.Create(r.Context(), ownerID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerIDFromContext(r.Context())
	snap, err := h.service.Orch.GetStatus(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerIDFromContext(r.Context())
	if err := h.service.Orch.Start(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerIDFromContext(r.Context())
	if err := h.service.Orch.Stop(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerIDFromContext(r.Context())
	if err := h.service.Orch.Delete(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addTimeRequest struct {
	Seconds int64 `json:"seconds"`
}

func (h *BotHandler) AddTime(w http.ResponseWriter, r *http.Request) {
	var req addTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seconds <= 0 {
		http.Error(w, "seconds must be positive", http.StatusBadRequest)
		return
	}

	ownerID := auth.OwnerIDFromContext(r.Context())
	if err := h.service.Orch.AddTime(r.Context(), ownerID, chi.URLParam(r, "id"), req.Seconds); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addPowerRequest struct {
	Percent float64 `json:"percent"`
}

func (h *BotHandler) AddPower(w http.ResponseWriter, r *http.Request) {
	var req addPowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Percent <= 0 {
		http.Error(w, "percent must be positive", http.StatusBadRequest)
		return
	}

	ownerID := auth.OwnerIDFromContext(r.Context())
	if err := h.service.Orch.AddPower(r.Context(), ownerID, chi.URLParam(r, "id"), req.Percent); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BotHandler) Recover(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerIDFromContext(r.Context())
	if err := h.service.Orch.Recover(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BotHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	ownerID := auth.OwnerIDFromContext(r.Context())
	entries, err := h.service.GetLogs(r.Context(), ownerID, chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []botlog.Entry{} // пустой журнал сериализуем как [], не null
	}
	writeJSON(w, http.StatusOK, entries)
}

type sleepRequest struct {
	Reason string `json:"reason"`
}

// ForceSleep — админская операция, доступ закрыт RequireAdmin в роутере
func (h *BotHandler) ForceSleep(w http.ResponseWriter, r *http.Request) {
	var req sleepRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.service.Orch.ForceSleep(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BotHandler) FleetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.FleetStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
