// Package httpx exposes the collaborator-facing HTTP surface: health,
// metrics, sync ingestion, rebuild triggers, and the alert event stream.
// The core stays consumable as a library; this is plumbing for the trigger
// sources described in the service contract.
package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nbyrd/staggerd/internal/alert"
	"github.com/nbyrd/staggerd/internal/domain"
	"github.com/nbyrd/staggerd/internal/repository"
	"github.com/nbyrd/staggerd/internal/service/deployment"
	"github.com/nbyrd/staggerd/internal/service/inventory"
	"github.com/nbyrd/staggerd/internal/service/target"
	"github.com/nbyrd/staggerd/internal/ws"
)

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	inventory    inventory.Service
	deployments  deployment.Service
	targets      *target.Service
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	triggerToken string
	dbHealth     func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	syncResults        *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, inventorySvc inventory.Service, deploymentSvc deployment.Service, targetSvc *target.Service, hub *ws.Hub, triggerToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		inventory:   inventorySvc,
		deployments: deploymentSvc,
		targets:     targetSvc,
		hub:         hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		triggerToken: strings.TrimSpace(triggerToken),
		dbHealth:     dbHealth,
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/sync", r.instrument("/sync", r.withToken(r.handleSync)))
	r.mux.HandleFunc("/attributes", r.instrument("/attributes", r.withToken(r.handleAttributes)))
	r.mux.HandleFunc("/computers/", r.instrument("/computers/:id", r.withToken(r.handleComputerSubroutes)))
	r.mux.HandleFunc("/triggers/rebuild", r.instrument("/triggers/rebuild", r.withToken(r.handleRebuild)))
	r.mux.HandleFunc("/deployments", r.instrument("/deployments", r.withToken(r.handleDeployments)))
	r.mux.HandleFunc("/deployments/", r.instrument("/deployments/:id", r.withToken(r.handleDeploymentSubroutes)))
	r.mux.HandleFunc("/schedules", r.instrument("/schedules", r.withToken(r.handleSchedules)))
	r.mux.HandleFunc("/schedules/", r.instrument("/schedules/:id", r.withToken(r.handleScheduleDelete)))
	r.mux.HandleFunc("/ws/events", r.handleEventsWS)
}

func (r *Router) withToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.authorized(req) {
			writeError(w, http.StatusUnauthorized, "invalid trigger token")
			return
		}
		next(w, req)
	}
}

func (r *Router) authorized(req *http.Request) bool {
	if r.triggerToken == "" {
		return true
	}
	header := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(header)), []byte(r.triggerToken)) == 1
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	database := map[string]any{"status": "up"}
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			database = map[string]any{"status": "down", "error": err.Error()}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": map[string]any{"database": database},
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleSync(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var report inventory.SyncReport
	if err := json.NewDecoder(req.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	computer, err := r.inventory.ProcessSync(req.Context(), report)
	if err != nil {
		r.recordSyncResult("failure")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.recordSyncResult("success")
	writeJSON(w, http.StatusOK, map[string]any{
		"computer_id": computer.ID,
		"project_id":  computer.ProjectID,
		"status":      computer.Status,
	})
}

func (r *Router) handleRebuild(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		DeploymentID string `json:"deployment_id"`
		ProjectID    string `json:"project_id"`
		AttributeID  string `json:"attribute_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	switch {
	case payload.DeploymentID != "":
		_, err = r.targets.Rebuild(req.Context(), payload.DeploymentID)
	case payload.ProjectID != "":
		err = r.targets.RebuildProject(req.Context(), payload.ProjectID)
	case payload.AttributeID != "":
		err = r.targets.RebuildForAttribute(req.Context(), payload.AttributeID)
	default:
		writeError(w, http.StatusBadRequest, "deployment_id, project_id, or attribute_id required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuilt"})
}

func (r *Router) handleAttributes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		PropertyPrefix string `json:"property_prefix"`
		Value          string `json:"value"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	attribute, err := r.inventory.CreateTag(req.Context(), payload.PropertyPrefix, payload.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, attribute)
}

func (r *Router) handleComputerSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/computers/"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 2 && parts[1] == "tags" && req.Method == http.MethodPost:
		var payload struct {
			AttributeID string `json:"attribute_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.inventory.AssignTag(req.Context(), parts[0], payload.AttributeID); err != nil {
			r.writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "tagged"})
	case len(parts) == 3 && parts[1] == "tags" && req.Method == http.MethodDelete:
		if err := r.inventory.RemoveTag(req.Context(), parts[0], parts[2]); err != nil {
			r.writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "untagged"})
	case len(parts) == 2 && parts[1] == "status" && req.Method == http.MethodPut:
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.inventory.SetStatus(req.Context(), parts[0], payload.Status); err != nil {
			r.writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": payload.Status})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		Name                 string     `json:"name"`
		ProjectID            string     `json:"project_id"`
		RepoURL              string     `json:"repo_url"`
		ScheduleID           *string    `json:"schedule_id"`
		StartDate            *time.Time `json:"start_date"`
		IncludedAttributeIDs []string   `json:"included_attribute_ids"`
		ExcludedAttributeIDs []string   `json:"excluded_attribute_ids"`
		Enabled              *bool      `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	created, err := r.deployments.Create(req.Context(), deployment.CreateRequest{
		Name:                 payload.Name,
		ProjectID:            payload.ProjectID,
		RepoURL:              payload.RepoURL,
		ScheduleID:           payload.ScheduleID,
		StartDate:            payload.StartDate,
		IncludedAttributeIDs: payload.IncludedAttributeIDs,
		ExcludedAttributeIDs: payload.ExcludedAttributeIDs,
		Enabled:              enabled,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/deployments/"), "/")
	if deploymentID, ok := strings.CutSuffix(rest, "/targets"); ok {
		r.handleTargets(w, req, deploymentID)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch req.Method {
	case http.MethodGet:
		found, err := r.deployments.Get(req.Context(), rest)
		if err != nil {
			r.writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, found)
	case http.MethodDelete:
		if err := r.deployments.Delete(req.Context(), rest); err != nil {
			r.writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (r *Router) handleTargets(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if deploymentID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	ids, err := r.targets.Get(req.Context(), deploymentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployment_id": deploymentID,
		"computer_ids":  ids,
		"count":         len(ids),
	})
}

func (r *Router) handleSchedules(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		Name   string `json:"name"`
		Delays []struct {
			Delay        int      `json:"delay"`
			AttributeIDs []string `json:"attribute_ids"`
			Quota        int      `json:"quota"`
		} `json:"delays"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	delays := make([]domain.ScheduleDelay, len(payload.Delays))
	for i, d := range payload.Delays {
		delays[i] = domain.ScheduleDelay{Delay: d.Delay, AttributeIDs: d.AttributeIDs, Quota: d.Quota}
	}
	schedule, err := r.deployments.CreateSchedule(req.Context(), payload.Name, delays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

func (r *Router) handleScheduleDelete(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	scheduleID := strings.Trim(strings.TrimPrefix(req.URL.Path, "/schedules/"), "/")
	if scheduleID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := r.deployments.DeleteSchedule(req.Context(), scheduleID); err != nil {
		r.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	if !r.authorized(req) {
		writeError(w, http.StatusUnauthorized, "invalid trigger token")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(alert.HubChannel, client)
	defer r.hub.Unregister(alert.HubChannel, client)

	// Reads are discarded; the socket exists to stream alerts out.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Debug("websocket closed", "error", err)
			}
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
