package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"botcore/pkg/api"
	"botcore/pkg/provider"
	"botcore/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type WebConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`    // Default: 9453
	Metrics bool   `json:"metrics"` // Serve /metrics for Prometheus
	// Token, when set, must be sent as "Authorization: Bearer <token>" to
	// the /api routes.
	Token string `json:"token"`
	// AllowedOrigins lists browser origins besides the server's own that
	// may open the websocket or call the API. "*" allows any origin.
	AllowedOrigins []string `json:"allowed_origins"`
}

type upload struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Data string `json:"data"` // Base64 encoded
}

type IncomingMessage struct {
	Text   string   `json:"text"`
	Images []upload `json:"images"`
	Audio  *upload  `json:"audio"`
}

// OutgoingMessage is every frame the server writes.
type OutgoingMessage struct {
	Type string `json:"type"` // "session" | "reply"
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

type WebChannel struct {
	config         WebConfig
	providers      api.ProviderSource
	attachmentsDir string

	upgrader    websocket.Upgrader
	server      *http.Server
	listener    net.Listener
	connections map[string]*SafeConn // session id -> WS connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig, providers api.ProviderSource, attachmentsDir string) *WebChannel {
	c := &WebChannel{
		config:         cfg,
		providers:      providers,
		attachmentsDir: attachmentsDir,
		connections:    make(map[string]*SafeConn),
	}
	c.upgrader = websocket.Upgrader{CheckOrigin: c.originAllowed}
	return c
}

func (c *WebChannel) ID() string {
	return "web"
}

// Handler returns the HTTP routes served by the channel.
func (c *WebChannel) Handler(ctx api.ChannelContext) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	mux.HandleFunc("GET /api/providers", c.guard(c.handleListProviders))
	mux.HandleFunc("POST /api/providers/current", c.guard(c.handleSetProvider))
	if c.config.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	addr := net.JoinHostPort(c.config.Host, fmt.Sprint(c.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web channel listen on %s: %w", addr, err)
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web API listening", "addr", ln.Addr().String())

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

// Addr is the bound listen address once started.
func (c *WebChannel) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

func (c *WebChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.server.Shutdown(ctx)

	// Hijacked websocket connections are not closed by Shutdown.
	c.mu.Lock()
	for id, conn := range c.connections {
		conn.Close()
		delete(c.connections, id)
	}
	c.mu.Unlock()
	return err
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	c.mu.RLock()
	conn, ok := c.connections[session.UserID]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("web session %s not connected", session.UserID)
	}
	return conn.WriteJSON(OutgoingMessage{Type: "reply", Text: message})
}

// originAllowed accepts requests without an Origin header (non-browser
// clients), same-origin requests and the configured origins.
func (c *WebChannel) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(c.config.AllowedOrigins, "*") || slices.Contains(c.config.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// guard protects the admin API. With a token configured the bearer token is
// required; without one, cross-origin browser requests are refused.
func (c *WebChannel) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.config.Token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(c.config.Token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid token"})
				return
			}
		} else if !c.originAllowed(r) {
			slog.Warn("Rejected cross-origin API request", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
			return
		}
		next(w, r)
	}
}

type providerView struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Model string `json:"model"`
}

type providersResponse struct {
	Current    string         `json:"current"`
	STT        string         `json:"stt,omitempty"`
	STTEnabled bool           `json:"stt_enabled"`
	Providers  []providerView `json:"providers"`
}

func (c *WebChannel) handleListProviders(w http.ResponseWriter, r *http.Request) {
	resp := providersResponse{
		STTEnabled: c.providers.STTEnabled(),
		Providers:  []providerView{},
	}
	for _, p := range c.providers.Insts() {
		resp.Providers = append(resp.Providers, providerView{ID: p.ID(), Type: p.Type(), Model: p.Model()})
	}
	if p := c.providers.CurrentProvider(); p != nil {
		resp.Current = p.ID()
	}
	if s := c.providers.CurrentSTTProvider(); s != nil {
		resp.STT = s.ID()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *WebChannel) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"id\": \"<provider id>\"}"})
		return
	}

	err := c.providers.SetCurrentProvider(r.Context(), body.ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"current": body.ID})
	case errors.Is(err, provider.ErrProviderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, provider.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error("Failed to switch provider", "provider", body.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}
	conn := &SafeConn{Conn: rawConn}

	// A client may resume a conversation by passing its previous session id.
	sessionID := r.URL.Query().Get("session")
	if _, err := uuid.Parse(sessionID); err != nil {
		sessionID = uuid.NewString()
	}

	c.mu.Lock()
	c.connections[sessionID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.connections[sessionID] == conn {
			delete(c.connections, sessionID)
		}
		c.mu.Unlock()
		conn.Close()
	}()

	if err := conn.WriteJSON(OutgoingMessage{Type: "session", ID: sessionID}); err != nil {
		return
	}

	session := api.SessionContext{
		ChannelID: c.ID(),
		UserID:    sessionID,
		ChatID:    sessionID,
		Username:  "WebUser",
	}

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var content string
		var files []api.FileAttachment

		var incoming IncomingMessage
		if err := json.Unmarshal(msgBytes, &incoming); err == nil {
			content = incoming.Text
			uploads := incoming.Images
			if incoming.Audio != nil {
				uploads = append(uploads, *incoming.Audio)
			}
			for _, u := range uploads {
				if f, err := c.saveUpload(u); err == nil {
					files = append(files, *f)
				} else {
					slog.Error("Failed to save upload", "name", u.Name, "error", err)
				}
			}
		} else {
			// Fallback: treat as plain text
			content = string(msgBytes)
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
			Files:   files,
		})
	}
}

func (c *WebChannel) saveUpload(u upload) (*api.FileAttachment, error) {
	data, err := base64.StdEncoding.DecodeString(u.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	a, err := utils.SaveAttachment(c.attachmentsDir, u.Name, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	mimeType := a.MimeType
	if u.Mime != "" {
		mimeType = u.Mime
	}
	slog.Debug("Received upload", "name", u.Name, "path", a.Path, "mime", mimeType)
	return &api.FileAttachment{Filename: u.Name, MimeType: mimeType, Path: a.Path}, nil
}
