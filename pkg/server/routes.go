package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/aeolun/chorus/pkg/auth"
	"github.com/aeolun/chorus/pkg/realtime"
	"github.com/gorilla/mux"
)

type contextKey int

const claimsKey contextKey = iota

// routes builds the public router
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	authAPI := r.PathPrefix("/auth/v1").Subrouter()
	authAPI.HandleFunc("/signup", s.handleSignUp).Methods(http.MethodPost)
	authAPI.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)

	rest := r.PathPrefix("/rest/v1").Subrouter()
	rest.Use(s.requireUser)
	rest.HandleFunc("/profiles", s.handleGetProfiles).Methods(http.MethodGet)
	rest.HandleFunc("/profiles/{id}", s.handleGetProfile).Methods(http.MethodGet)
	rest.HandleFunc("/channels/{id}/messages", s.handleListChannelMessages).Methods(http.MethodGet)
	rest.HandleFunc("/channels/{id}/messages", s.handlePostChannelMessage).Methods(http.MethodPost)
	rest.HandleFunc("/direct_messages", s.handleListDirectMessages).Methods(http.MethodGet)
	rest.HandleFunc("/direct_messages", s.handlePostDirectMessage).Methods(http.MethodPost)
	rest.HandleFunc("/dm_peers", s.handleListDMPeers).Methods(http.MethodGet)
	rest.HandleFunc("/servers", s.handleListServers).Methods(http.MethodGet)
	rest.HandleFunc("/servers", s.handleCreateServer).Methods(http.MethodPost)
	rest.HandleFunc("/servers/{id}", s.handleGetServer).Methods(http.MethodGet)
	rest.HandleFunc("/servers/{id}/channels", s.handleListChannels).Methods(http.MethodGet)
	rest.HandleFunc("/invites/{code}", s.handleJoinServer).Methods(http.MethodPost)
	rest.HandleFunc("/flagged_messages", s.handleFlagMessage).Methods(http.MethodPost)

	functions := r.PathPrefix("/functions/v1").Subrouter()
	functions.Handle("/admin-auth", s.moderation.AuthHandler()).Methods(http.MethodPost, http.MethodOptions)
	functions.Handle("/admin-operations", s.moderation.OperationsHandler()).Methods(http.MethodPost, http.MethodOptions)

	r.Handle("/realtime/v1/websocket", realtime.NewHandler(s.sessions, s.authenticateRealtime, debugLog)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	return r
}

// claimsFrom returns the verified session claims of an authenticated request
func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// requireUser rejects requests without a valid user session token
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ParseBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := s.signer.Verify(token, auth.RoleUser)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// authenticateRealtime accepts a user or admin token from the Authorization
// header or the token query parameter.
func (s *Server) authenticateRealtime(r *http.Request) (realtime.Identity, error) {
	token, err := auth.ParseBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return realtime.Identity{}, auth.ErrMissingToken
	}
	if claims, err := s.signer.Verify(token, auth.RoleUser); err == nil {
		return realtime.Identity{UserID: claims.Subject, Role: realtime.RoleUser}, nil
	} else if !errors.Is(err, auth.ErrWrongRole) {
		return realtime.Identity{}, err
	}
	claims, err := s.signer.Verify(token, auth.RoleAdmin)
	if err != nil {
		return realtime.Identity{}, err
	}
	return realtime.Identity{UserID: claims.Subject, Role: realtime.RoleAdmin}, nil
}

// statusRecorder captures the response status for request metrics. It
// passes Hijack through so websocket upgrades still work.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// instrument counts requests by route template and status
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.RecordHTTPRequest(route, rec.status)
	})
}

// withCORS answers preflight requests for the auth and rest APIs. The
// functions send their own headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/functions/") {
			next.ServeHTTP(w, r)
			return
		}
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "authorization, content-type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// withIPBans refuses requests from banned addresses. The moderation
// functions stay reachable so an admin cannot lock themselves out.
func (s *Server) withIPBans(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/functions/") {
			next.ServeHTTP(w, r)
			return
		}
		banned, err := s.db.IsIPBanned(clientIP(r))
		if err != nil {
			errorLog.Errorw("ip ban lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Database error")
			return
		}
		if banned {
			writeError(w, http.StatusForbidden, "Your IP address has been banned")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of the peer address
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
