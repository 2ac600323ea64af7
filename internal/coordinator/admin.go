package coordinator

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"rolesync/internal/constants"
	"rolesync/internal/domain"
	"rolesync/internal/ipc"
)

// WorkerControl is the slice of the supervisor the admin surface
// drives.
type WorkerControl interface {
	RequestRefresh(ctx context.Context, snowflake string) (bool, error)
	LinkAccount(ctx context.Context, snowflake, region, accountID string) (bool, error)
	UnlinkAccount(ctx context.Context, snowflake, region, accountID string) (bool, error)
	WorkerStatus(ctx context.Context) (*ipc.WorkerStatusResult, error)
	WorkerRunning() bool
	Restarts() int64
}

// PromotionLog reads the recorded promotion history.
type PromotionLog interface {
	ListRecent(ctx context.Context, guild string, limit int) ([]domain.Promotion, error)
}

// Admin is the coordinator's local HTTP surface: health, status, and a
// few operator verbs that get proxied to the worker over IPC.
type Admin struct {
	sup        WorkerControl
	peer       *ipc.Peer
	promotions PromotionLog
	logger     zerolog.Logger
}

func NewAdmin(sup WorkerControl, peer *ipc.Peer, promotions PromotionLog, logger zerolog.Logger) *Admin {
	return &Admin{
		sup:        sup,
		peer:       peer,
		promotions: promotions,
		logger:     logger.With().Str("component", "admin").Logger(),
	}
}

func (a *Admin) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/refresh", a.handleRefresh)
	mux.HandleFunc("/link", a.handleLink)
	mux.HandleFunc("/unlink", a.handleUnlink)
	mux.HandleFunc("/promotions", a.handlePromotions)
}

func (a *Admin) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Admin) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"worker_running":   a.sup.WorkerRunning(),
		"worker_restarts":  a.sup.Restarts(),
		"pending_requests": a.peer.PendingCount(),
	}

	if a.sup.WorkerRunning() {
		ctx, cancel := context.WithTimeout(r.Context(), constants.GatewayCallTimeout)
		status, err := a.sup.WorkerStatus(ctx)
		cancel()
		if err != nil {
			a.logger.Warn().Err(err).Msg("worker status unavailable")
		} else {
			body["scheduler"] = map[string]any{
				"ticks":     status.Ticks,
				"overruns":  status.Overruns,
				"in_flight": status.InFlight,
			}
			body["rate_limit"] = status.RateLimit
		}
	}

	writeJSON(w, http.StatusOK, body)
}

// handleRefresh forces one user's refresh out of band. It waits for the
// worker's verdict so the operator sees whether the pass succeeded.
func (a *Admin) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	snowflake := r.URL.Query().Get("user")
	if snowflake == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user query parameter required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.ManualRefreshWait)
	defer cancel()

	ok, err := a.sup.RequestRefresh(ctx, snowflake)
	if err != nil {
		a.logger.Warn().Err(err).Str("snowflake", snowflake).Msg("manual refresh failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

type linkRequest struct {
	Snowflake string `json:"snowflake"`
	Region    string `json:"region"`
	AccountID string `json:"accountId"`
}

func (a *Admin) handleLink(w http.ResponseWriter, r *http.Request) {
	a.handleAccountChange(w, r, a.sup.LinkAccount)
}

func (a *Admin) handleUnlink(w http.ResponseWriter, r *http.Request) {
	a.handleAccountChange(w, r, a.sup.UnlinkAccount)
}

func (a *Admin) handleAccountChange(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, snowflake, region, accountID string) (bool, error)) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Snowflake == "" || req.Region == "" || req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "snowflake, region and accountId are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.ManualRefreshWait)
	defer cancel()

	ok, err := call(ctx, req.Snowflake, req.Region, req.AccountID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

func (a *Admin) handlePromotions(w http.ResponseWriter, r *http.Request) {
	guild := r.URL.Query().Get("guild")
	if guild == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "guild query parameter required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
	defer cancel()

	promotions, err := a.promotions.ListRecent(ctx, guild, 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, promotions)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
