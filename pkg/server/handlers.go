package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	errdomain "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/errors"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

type uploadURLRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

func (s *Server) handleIssueUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("upload URL request",
		zap.String("fileName", req.FileName),
		zap.String("contentType", req.ContentType))

	result, err := s.service.IssueUploadURL(r.Context(), req.FileName, req.ContentType)
	if err != nil {
		if errors.Is(err, errdomain.ErrInvalidArgument) {
			s.respondError(w, http.StatusBadRequest, "file name and a video content type are required")
			return
		}
		s.logger.Error("issuing upload URL failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	RequestID string `json:"requestId"`
}

func (s *Server) handleSubmitSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query))

	requestUID, err := s.service.SubmitSearch(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, errdomain.ErrInvalidArgument) {
			s.respondError(w, http.StatusBadRequest, "query is required")
			return
		}
		s.logger.Error("submitting search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The search runs asynchronously; progress arrives on /v1/events.
	s.respondJSON(w, http.StatusAccepted, searchResponse{RequestID: requestUID.String()})
}

type approvalRequest struct {
	CallbackID string `json:"callbackId"`
	Decision   string `json:"decision"`
	Message    string `json:"message"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	callbackUID, err := uuid.FromString(req.CallbackID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid callbackId")
		return
	}

	err = s.service.ResolveApproval(r.Context(), callbackUID, types.Decision(req.Decision), req.Message)
	if err != nil {
		if errors.Is(err, errdomain.ErrInvalidArgument) {
			s.respondError(w, http.StatusBadRequest, "decision must be APPROVED or REJECTED")
			return
		}
		s.logger.Error("resolving approval failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Unknown and already-resolved callbacks are deliberately acknowledged
	// the same way as fresh ones: the response leaks nothing about which
	// callback IDs exist.
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobUID, err := uuid.FromString(chi.URLParam(r, "jobUID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid job UID")
		return
	}

	job, err := s.service.GetJobStatus(r.Context(), jobUID)
	if err != nil {
		if errors.Is(err, errdomain.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("reading job failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

// handleGetIngestStatus reads the active embedding job for one object,
// identified by ?bucket= and ?key=.
func (s *Server) handleGetIngestStatus(w http.ResponseWriter, r *http.Request) {
	ref := types.ObjectRef{
		Bucket: r.URL.Query().Get("bucket"),
		Key:    r.URL.Query().Get("key"),
	}
	if ref.Bucket == "" || ref.Key == "" {
		s.respondError(w, http.StatusBadRequest, "bucket and key are required")
		return
	}

	job, err := s.service.GetIngestStatus(r.Context(), ref)
	if err != nil {
		if errors.Is(err, errdomain.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no active job for object")
			return
		}
		s.logger.Error("reading ingest status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	requestUID, err := uuid.FromString(chi.URLParam(r, "requestID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request ID")
		return
	}

	req, err := s.service.GetSearchRequest(r.Context(), requestUID)
	if err != nil {
		if errors.Is(err, errdomain.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "search request not found")
			return
		}
		s.logger.Error("reading search request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleListOverdueApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.service.ListOverdueApprovals(r.Context())
	if err != nil {
		s.logger.Error("listing overdue approvals failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, approvals)
}

// handleEventStream streams status events over SSE. With ?requestId= it
// follows one request; without it, it follows everything.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	requestID := r.URL.Query().Get("requestId")
	events, cancel, err := s.eventBus.Subscribe(r.Context(), requestID)
	if err != nil {
		s.logger.Error("subscribing to status events failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("encoding status event failed", zap.Error(err))
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
