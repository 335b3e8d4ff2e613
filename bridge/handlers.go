// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hippocamp/matrix-actions/lib/netutil"
)

// NewHandler wires the operation endpoints around service. The CORS
// layer sits outermost so preflight requests are answered before
// routing or authentication.
func NewHandler(service *Service, settings *Settings, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send_message", handleSendMessage(service))
	mux.HandleFunc("GET /read_messages", handleReadMessages(service))
	mux.HandleFunc("GET /room_members", handleRoomMembers(service))
	mux.HandleFunc("GET /healthz", handleHealthz)

	var handler http.Handler = mux
	handler = requestLogger(logger, handler)
	handler = corsMiddleware(settings.AllowedOrigins, handler)
	return handler
}

type sendMessageRequest struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

func handleSendMessage(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := netutil.ReadResponse(r.Body)
		if err != nil {
			writeError(w, Errorf(CategoryValidation, "reading request body: %v", err))
			return
		}
		var request sendMessageRequest
		if err := json.Unmarshal(data, &request); err != nil {
			writeError(w, Errorf(CategoryValidation, "request body is not valid JSON"))
			return
		}

		result, err := service.SendMessage(r.Context(), request.RoomID, request.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleReadMessages(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := DefaultReadLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, Errorf(CategoryValidation, "limit %q is not a number", raw))
				return
			}
			limit = parsed
		}

		messages, err := service.ReadMessages(r.Context(), r.URL.Query().Get("room_id"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messages)
	}
}

func handleRoomMembers(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members, err := service.RoomMembers(r.Context(), r.URL.Query().Get("room_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, members)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an operation error to its status code and the
// {"detail": ...} body shape.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, HTTPStatus(err), map[string]string{"detail": Detail(err)})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(started).Round(time.Millisecond),
		}
		if roomID := r.URL.Query().Get("room_id"); roomID != "" {
			attrs = append(attrs, "room_id", roomID)
		}
		logger.Info("request", attrs...)
	})
}
