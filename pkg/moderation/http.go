package moderation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aeolun/chorus/pkg/database"
	"github.com/aeolun/chorus/pkg/protocol"
)

const maxRequestBody = 1 << 20

// CORS headers sent on every function response.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
	"Access-Control-Allow-Methods": "POST, OPTIONS",
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeCORS(w http.ResponseWriter) {
	for k, v := range corsHeaders {
		w.Header().Set(k, v)
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debugw("write function response", "error", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("moderation function failed", "error", err)
	}
	s.writeJSON(w, status, protocol.FunctionResponse{Error: err.Error()})
}

// AuthHandler serves POST /functions/v1/admin-auth.
func (s *Service) AuthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		var req protocol.AdminAuthRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
			s.writeError(w, ErrInvalidAction)
			return
		}
		resp, err := s.Login(req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

// OperationsHandler serves POST /functions/v1/admin-operations.
func (s *Service) OperationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		admin, err := s.Authorize(r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, err)
			return
		}

		var req protocol.FunctionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
			s.writeError(w, ErrInvalidPayload)
			return
		}

		result, err := s.Dispatch(r.Context(), admin, req.Operation, req.Data)
		if err != nil {
			s.writeError(w, err)
			return
		}
		data, err := json.Marshal(result)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, protocol.FunctionResponse{Data: data})
	}
}
