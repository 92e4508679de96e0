package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/tbruckner/privd/internal/privd/service"
	"github.com/tbruckner/privd/internal/privd/types"
)

// Dependencies wires the server to the grant state machine. The channel
// is assumed authenticated: in production the listener is a root-owned
// unix socket and the agent is the only peer.
type Dependencies struct {
	Logger     *log.Logger
	Addr       string // TCP listen address (dev)
	SocketPath string // unix socket path; takes precedence over Addr
	Grants     *service.GrantService
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	grants     *service.GrantService
	socketPath string
	addr       string
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:     d.Logger,
		mux:        mux,
		grants:     d.Grants,
		socketPath: d.SocketPath,
		addr:       d.Addr,
	}

	mux.HandleFunc("POST /v1/grant", s.handleGrant)
	mux.HandleFunc("POST /v1/revoke", s.handleRevoke)
	mux.HandleFunc("GET /v1/status/{user}", s.handleStatus)
	mux.HandleFunc("POST /v1/config", s.handleConfig)
	mux.HandleFunc("POST /v1/session", s.handleSession)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) listen() (net.Listener, error) {
	if s.socketPath != "" {
		// A stale socket from an unclean shutdown blocks the bind.
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		ln, err := net.Listen("unix", s.socketPath)
		if err != nil {
			return nil, fmt.Errorf("listen unix %s: %w", s.socketPath, err)
		}
		if err := os.Chmod(s.socketPath, 0o600); err != nil {
			ln.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", s.addr, err)
	}
	return ln, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.socketPath != "" {
		_ = os.Remove(s.socketPath)
	}
	return err
}

// ── Handlers ─────────────────────────────────────────────────────────────────

type grantResponse struct {
	Decision        string `json:"decision"`
	DenyCode        string `json:"deny_code,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	RevokeAtLogin   bool   `json:"revoke_at_login,omitempty"`
	ServerTime      string `json:"server_time"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req types.GrantRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	decision, err := s.grants.RequestGrant(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidUser) {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error())
			return
		}
		s.logger.Printf("grant error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, grantResponse{
		Decision:        string(decision.Outcome),
		DenyCode:        string(decision.DenyCode),
		DurationMinutes: int(decision.Duration.Minutes()),
		RevokeAtLogin:   decision.RevokeAtLogin,
		ServerTime:      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type revokeRequest struct {
	User string `json:"user"`
}

type ackResponse struct {
	OK         bool   `json:"ok"`
	ServerTime string `json:"server_time"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if err := s.grants.RequestRevoke(r.Context(), req.User); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUser):
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error())
		case errors.Is(err, service.ErrEnforced):
			writeError(w, http.StatusConflict, "enforced_privilege", err.Error())
		default:
			s.logger.Printf("revoke error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ackResponse{OK: true, ServerTime: time.Now().UTC().Format(time.RFC3339Nano)})
}

type statusResponse struct {
	User       string `json:"user"`
	State      string `json:"state"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	TimeLeftS  int64  `json:"time_left_s"`
	ServerTime string `json:"server_time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	st, err := s.grants.GetStatus(r.Context(), user)
	if err != nil {
		if errors.Is(err, service.ErrInvalidUser) {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error())
			return
		}
		s.logger.Printf("status error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	resp := statusResponse{
		User:       user,
		State:      string(st.State),
		TimeLeftS:  int64(st.TimeLeft.Seconds()),
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if st.ExpiresAt != nil {
		resp.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var cfg types.PolicyConfig
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if err := s.grants.ConfigChanged(r.Context(), cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_policy", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ackResponse{OK: true, ServerTime: time.Now().UTC().Format(time.RFC3339Nano)})
}

type sessionRequest struct {
	User string `json:"user"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if err := s.grants.SessionStarted(r.Context(), req.User); err != nil {
		if errors.Is(err, service.ErrInvalidUser) {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error())
			return
		}
		s.logger.Printf("session error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, ackResponse{OK: true, ServerTime: time.Now().UTC().Format(time.RFC3339Nano)})
}
