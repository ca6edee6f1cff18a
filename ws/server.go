package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/auth"
	"github.com/mudassirishfaq94/chat-app/blob"
	"github.com/mudassirishfaq94/chat-app/config"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/metrics"
	"github.com/mudassirishfaq94/chat-app/session"
	"github.com/mudassirishfaq94/chat-app/types"
)

// Server is the connection gateway: it authenticates HTTP and websocket requests and hands each websocket
// connection to a session.
type Server struct {
	gateway       config.GatewayConfig
	metrics       bool
	authenticator auth.Provider
	manager       *session.Manager
	blobs         *blob.Store
	upgrader      websocket.Upgrader
	logger        hclog.Logger
}

func NewServer(cfg *config.Config, authenticator auth.Provider, manager *session.Manager, blobs *blob.Store) *Server {
	s := &Server{
		gateway:       cfg.GatewayConfig,
		metrics:       cfg.MetricsConfig.Enabled,
		authenticator: authenticator,
		manager:       manager,
		blobs:         blobs,
		logger:        globals.AppLogger.Named("ws"),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.gateway.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.gateway.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.logger.Warn("rejected origin", "origin", origin)
	return false
}

// NewRouter returns the HTTP routes of the gateway.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWs).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/me", s.me).Methods(http.MethodGet)
	r.HandleFunc("/api/blobs", s.putBlob).Methods(http.MethodPost)
	r.HandleFunc(blob.URLPrefix+"{key}", s.getBlob).Methods(http.MethodGet)
	if s.metrics {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.KindOf(err) {
	case types.KindAuthorization:
		status = http.StatusUnauthorized
	case types.KindValidation:
		status = http.StatusBadRequest
	case types.KindNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": types.PublicMessage(err), "code": string(types.KindOf(err))})
}

// authenticate verifies the request credentials. With requireToken the guest fallback is not accepted.
func (s *Server) authenticate(ctx context.Context, r *http.Request, requireToken bool) (*auth.Identity, error) {
	creds := auth.CredentialsFromRequest(r)
	if requireToken && creds.Token == "" {
		return nil, types.NewAuthorizationError("authenticate", "credentials required")
	}
	return s.authenticator.Verify(ctx, creds)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type meResponse struct {
	User struct {
		Id      string `json:"id"`
		Name    string `json:"name"`
		IsAdmin bool   `json:"isAdmin"`
	} `json:"user"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r.Context(), r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := meResponse{}
	resp.User.Id = identity.UserId
	resp.User.Name = identity.DisplayName
	resp.User.IsAdmin = identity.IsAdmin
	writeJSON(w, http.StatusOK, resp)
}

type blobResponse struct {
	URL  string `json:"url"`
	Size int    `json:"size"`
	Mime string `json:"mime"`
}

func (s *Server) putBlob(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r.Context(), r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	if identity.Guest {
		writeError(w, types.NewAuthorizationError("put blob", "guests cannot upload"))
		return
	}
	body := r.Body
	if limit := s.blobs.MaxSize(); limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, types.NewValidationError("put blob", "blob too large"))
		return
	}
	mime := r.Header.Get("Content-Type")
	url, err := s.blobs.Put(r.Context(), identity.UserId, data, mime)
	if err != nil {
		writeError(w, err)
		return
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	writeJSON(w, http.StatusCreated, blobResponse{URL: url, Size: len(data), Mime: mime})
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	data, mime, err := s.blobs.Get(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// serveWs authenticates the request, upgrades it and runs the connection until it closes.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r.Context(), r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("could not upgrade connection", "error", err)
		return
	}
	client := NewClient(conn, s.gateway.SendBuffer, s.gateway.MaxFrameBytes, s.gateway.MaxFramesPerSecond, s.logger)

	ctx := r.Context()
	sess, err := s.manager.Connect(ctx, client, identity.User())
	if err != nil {
		s.logger.Error("could not start session", "user", identity.UserId, "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, types.PublicMessage(err)))
		_ = conn.Close()
		return
	}
	s.logger.Info("connection opened", "conn", client.ID(), "user", identity.UserId, "guest", identity.Guest)

	client.Add(1)
	go client.WriteLoop()
	client.ReadLoop(ctx, sess)
	sess.Close()
	client.Wait()
	s.logger.Info("connection closed", "conn", client.ID(), "user", identity.UserId)
}
