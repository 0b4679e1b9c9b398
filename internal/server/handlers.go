package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/reqai/internal/dispatch"
	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/export"
	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/internal/recordstore"
	"github.com/hyperjump/reqai/internal/search"
	"github.com/hyperjump/reqai/internal/storage"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.dispatch(w, r, cmd, http.StatusOK)
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Command{Name: dispatch.CmdListTypes}, http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Command{Name: dispatch.CmdList, EntityType: chi.URLParam(r, "type")}, http.StatusOK)
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Command{
		Name:       dispatch.CmdForm,
		EntityType: chi.URLParam(r, "type"),
		ID:         chi.URLParam(r, "id"),
	}, http.StatusOK)
}

func (s *Server) handleFacets(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Command{Name: dispatch.CmdFacets, EntityType: chi.URLParam(r, "type")}, http.StatusOK)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, dispatch.Command{
		Name:       dispatch.CmdCreate,
		EntityType: chi.URLParam(r, "type"),
		Payload:    payload,
	}, http.StatusCreated)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, dispatch.Command{
		Name:       dispatch.CmdUpdate,
		EntityType: chi.URLParam(r, "type"),
		ID:         chi.URLParam(r, "id"),
		Payload:    payload,
	}, http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Command{
		Name:       dispatch.CmdDelete,
		EntityType: chi.URLParam(r, "type"),
		ID:         chi.URLParam(r, "id"),
	}, http.StatusOK)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, dispatch.Command{
		Name:       dispatch.CmdFilter,
		EntityType: chi.URLParam(r, "type"),
		Payload:    payload,
	}, http.StatusOK)
}

func (s *Server) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Command{Name: dispatch.CmdClearFilter, EntityType: chi.URLParam(r, "type")}, http.StatusOK)
}

type searchRequest struct {
	Query      string `json:"query"`
	EntityType string `json:"entity_type"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.String("entity_type", req.EntityType))
	s.dispatch(w, r, dispatch.Command{
		Name:       dispatch.CmdSearch,
		EntityType: req.EntityType,
		Payload:    map[string]interface{}{"query": req.Query},
	}, http.StatusOK)
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Command{Name: dispatch.CmdIndexStatus}, http.StatusOK)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Command{Name: dispatch.CmdReindex}, http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res := s.dispatcher.Dispatch(r.Context(), dispatch.Command{Name: dispatch.CmdIndexStatus})
	resp := map[string]interface{}{}
	if res.OK {
		resp["index"] = res.Index
	}
	if s.snapshots != nil {
		configInfo := map[string]interface{}{"snapshot_path": s.snapshots.Path()}
		if n, err := storage.SnapshotBytes(s.snapshots); err == nil {
			configInfo["snapshot_bytes"] = n
		}
		resp["config"] = configInfo
	}
	if s.hub != nil {
		resp["progress_subscribers"] = s.hub.Len()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := export.Workbook(r.Context(), s.exportSrc)
	if err != nil {
		s.logger.Error("export failed", zap.Error(err))
		s.respondError(w, statusFor(err), dispatch.StatusMessage(err))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="reqai_export.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if _, err := f.WriteTo(w); err != nil {
		s.logger.Warn("export write failed", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProgress streams indexing progress as JSON text messages until the
// client goes away.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.respondError(w, http.StatusNotImplemented, "progress stream not enabled")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	updates, cancel := s.hub.Subscribe()
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-updates:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "progress stream closed")
				return
			}
			if err := s.writeProgress(ctx, conn, p); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) writeProgress(ctx context.Context, conn *websocket.Conn, p indexer.Progress) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, p)
}

// dispatch runs cmd and writes its result, or an error body with a status
// derived from the failure.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, cmd dispatch.Command, okStatus int) {
	res := s.dispatcher.Dispatch(r.Context(), cmd)
	w.Header().Set("X-Request-ID", res.RequestID)
	if !res.OK {
		status := statusFor(res.Err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("command failed",
				zap.String("request_id", res.RequestID),
				zap.String("command", cmd.Name),
				zap.Error(res.Err),
			)
		}
		s.respondJSON(w, status, errorBody{Error: res.Message, Index: res.Index, RequestID: res.RequestID})
		return
	}
	s.respondJSON(w, okStatus, res)
}

type errorBody struct {
	Error     string          `json:"error"`
	Index     *indexer.Status `json:"index,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var storeErr *recordstore.StoreError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, recordstore.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &storeErr):
		if storeErr.Status >= 400 && storeErr.Status < 500 {
			return storeErr.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, indexer.ErrIndexBusy):
		return http.StatusConflict
	case errors.Is(err, search.ErrSearchUnavailable), errors.Is(err, embedding.ErrProviderInit):
		return http.StatusServiceUnavailable
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, dispatch.ErrUnknownCommand),
		errors.Is(err, dispatch.ErrMissingEntityType),
		errors.Is(err, dispatch.ErrMissingID),
		errors.Is(err, dispatch.ErrNotSearchable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decodePayload(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return payload, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
