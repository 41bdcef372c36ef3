package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"edahub-backend/internal/chartstore"
	"edahub-backend/internal/hub"
	"edahub-backend/internal/ingest"
)

type Handler struct {
	Manager *ingest.Manager
	Charts  chartstore.Store
	Hub     *hub.Hub
	Logger  *slog.Logger
}

type addConnectionRequest struct {
	Type   string        `json:"type"`
	Config ingest.Config `json:"config"`
}

type selectTablesRequest struct {
	Tables []string `json:"tables"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/ws", h.handleWS)

	r.Route("/connections", func(r chi.Router) {
		r.Post("/", h.handleAddConnection)
		r.Get("/", h.handleListConnections)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.handleRemoveConnection)
			r.Get("/data", h.handleUnifiedData)
			r.Get("/tables", h.handleSqlTables)
			r.Post("/tables/select", h.handleSelectTables)
			r.Get("/tables/{table}/columns", h.handleDescribeTable)
			r.Get("/tables/{table}/preview", h.handlePreviewTable)
			r.Get("/preview/mqtt", h.handlePreviewMqtt)
			r.Get("/preview/http", h.handlePreviewHttp)
			r.Get("/preview/serial", h.handlePreviewSerial)
		})
	})

	r.Route("/charts", func(r chi.Router) {
		r.Post("/", h.handleChartCreate)
		r.Get("/", h.handleChartList)
		r.Get("/{id}", h.handleChartGet)
		r.Put("/{id}", h.handleChartUpdate)
		r.Delete("/{id}", h.handleChartDelete)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := hub.NewWSClient(conn)
	h.Hub.Attach(client)
	go func() {
		defer func() {
			h.Hub.Detach(client)
			client.Close()
		}()
		// Drain control frames; clients only receive.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Handler) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var req addConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	summary, err := h.Manager.AddConnection(r.Context(), req.Type, req.Config)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Manager.ListConnections())
}

func (h *Handler) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	h.Manager.RemoveConnection(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleUnifiedData(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Manager.GetUnifiedData(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) handleSqlTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.Manager.GetSqlTables(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (h *Handler) handleSelectTables(w http.ResponseWriter, r *http.Request) {
	var req selectTablesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if err := h.Manager.SelectSqlTables(chi.URLParam(r, "id"), req.Tables); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	columns, err := h.Manager.DescribeSqlTable(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "table"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, columns)
}

func (h *Handler) handlePreviewTable(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Manager.PreviewSqlTable(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "table"), queryInt(r, "limit", 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handlePreviewMqtt(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Manager.PreviewMqtt(chi.URLParam(r, "id"), r.URL.Query().Get("topic"), queryInt(r, "limit", 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handlePreviewHttp(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Manager.PreviewHttp(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("endpoint"), queryInt(r, "limit", 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handlePreviewSerial(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Manager.PreviewSerial(chi.URLParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleChartCreate(w http.ResponseWriter, r *http.Request) {
	data, err := readChartBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	chart, err := h.Charts.Create(r.Context(), data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (h *Handler) handleChartList(w http.ResponseWriter, r *http.Request) {
	charts, err := h.Charts.GetAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if charts == nil {
		charts = []chartstore.Chart{}
	}
	writeJSON(w, http.StatusOK, charts)
}

func (h *Handler) handleChartGet(w http.ResponseWriter, r *http.Request) {
	chart, err := h.Charts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (h *Handler) handleChartUpdate(w http.ResponseWriter, r *http.Request) {
	data, err := readChartBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	chart, err := h.Charts.Update(r.Context(), chi.URLParam(r, "id"), data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (h *Handler) handleChartDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Charts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func readChartBody(r *http.Request) (json.RawMessage, error) {
	var data json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		return nil, errors.New("body must be valid json")
	}
	return data, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]any{"ok": false, "message": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ingest.ErrNotFound), errors.Is(err, chartstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrInvalidType),
		errors.Is(err, ingest.ErrMissingCredentials),
		errors.Is(err, ingest.ErrWrongType),
		errors.Is(err, ingest.ErrBadInput):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrAdapterOpen), errors.Is(err, ingest.ErrDriver), errors.Is(err, ingest.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}
	return fallback
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
