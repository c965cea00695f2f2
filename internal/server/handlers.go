package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/citeseek/citeseek/internal/async"
	cserr "github.com/citeseek/citeseek/internal/errors"
	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/search"
)

type handlers struct {
	deps Deps
}

// ragRequest is the query payload. use_lexical defaults to true when
// the field is omitted.
type ragRequest struct {
	Query      string `json:"query"`
	Collection string `json:"collection"`
	TopK       int    `json:"top_k"`
	FinalK     int    `json:"final_k"`
	UseLexical *bool  `json:"use_lexical"`
	Debug      bool   `json:"debug"`
}

func (h *handlers) rag(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cserr.Validation("request body must be valid JSON"))
		return
	}

	useLexical := true
	if req.UseLexical != nil {
		useLexical = *req.UseLexical
	}

	resp, err := h.deps.Pipeline.Run(r.Context(), search.Request{
		Query:      req.Query,
		Collection: req.Collection,
		TopK:       req.TopK,
		FinalK:     req.FinalK,
		UseLexical: useLexical,
		Debug:      req.Debug,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) ingestDoc(w http.ResponseWriter, r *http.Request) {
	var doc ingest.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, cserr.Validation("request body must be valid JSON"))
		return
	}

	res, err := h.deps.Ingestor.Ingest(r.Context(), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) listCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := h.deps.Admin.Collections(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": infos})
}

func (h *handlers) rebuildCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	indexed, err := h.deps.Admin.Rebuild(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": name, "indexed": indexed})
}

func (h *handlers) rebuildAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Collections []string `json:"collections"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, cserr.Validation("request body must be valid JSON"))
			return
		}
	}

	if r.URL.Query().Get("async") == "true" {
		if h.deps.Rebuild == nil {
			writeError(w, cserr.Validation("background rebuilds are not enabled"))
			return
		}
		if len(body.Collections) > 0 {
			writeError(w, cserr.Validation("background rebuilds cover all collections; omit the collections field"))
			return
		}
		// The request context dies with the request; the rebuild must
		// outlive it.
		if err := h.deps.Rebuild.Start(context.WithoutCancel(r.Context())); err != nil {
			if errors.Is(err, async.ErrRebuildInProgress) {
				writeJSON(w, http.StatusConflict, h.deps.Rebuild.Progress())
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, h.deps.Rebuild.Progress())
		return
	}

	outcomes := h.deps.Admin.RebuildAll(r.Context(), body.Collections)
	writeJSON(w, http.StatusOK, map[string]any{"results": outcomes})
}

func (h *handlers) rebuildStatus(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Rebuild == nil {
		writeError(w, cserr.Validation("background rebuilds are not enabled"))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Rebuild.Progress())
}

func (h *handlers) deleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	removed, err := h.deps.Ingestor.DeleteCollection(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": name, "chunks_removed": removed})
}

func (h *handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id := chi.URLParam(r, "id")

	removed, err := h.deps.Ingestor.DeleteDocument(r.Context(), name, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection": name, "document_id": id, "chunks_removed": removed,
	})
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	state := h.deps.Ready.Snapshot(r.Context())
	status := http.StatusOK
	if !state.OverallReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, state)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	infos, err := h.deps.Admin.Collections(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":     h.deps.Metrics.Snapshot(),
		"readiness":   h.deps.Ready.Last(r.Context()),
		"collections": infos,
	})
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Code = cserr.GetCode(err)
	body.Error.Message = err.Error()

	var e *cserr.Error
	if errors.As(err, &e) {
		body.Error.Message = e.Message
	}
	writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch {
	case cserr.IsValidation(err):
		return http.StatusBadRequest
	case cserr.IsDependency(err):
		return http.StatusServiceUnavailable
	case cserr.GetCode(err) == cserr.ErrCodeIndexBuildEmpty:
		return http.StatusUnprocessableEntity
	case cserr.HasCategory(err, cserr.CategoryConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
