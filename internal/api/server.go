package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"MultiBridge/internal/aggregation"
	"MultiBridge/internal/events"
	"MultiBridge/internal/logger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/receipt"
)

const (
	// eventBuffer is the subscription buffer of one websocket client.
	eventBuffer = 256

	// writeWait bounds a single websocket write.
	writeWait = 5 * time.Second

	// pingInterval is the websocket keepalive period.
	pingInterval = 30 * time.Second
)

// Engine exposes the aggregation state for monitoring.
type Engine interface {
	Info() aggregation.Info
	Message(id message.ID) (aggregation.MessageState, error)
}

// ReceiptStore returns stored execution receipts, nil when absent.
type ReceiptStore interface {
	Get(id message.ID) (*receipt.Receipt, error)
}

// Subscriber streams committed events.
type Subscriber interface {
	Subscribe(buf int) (<-chan events.Event, func())
}

// Config wires the server to the node components. Nil components disable their endpoints.
type Config struct {
	Addr     string                  // Addr is the HTTP listen address
	Engine   Engine                  // Engine backs /status and /messages
	Receipts ReceiptStore            // Receipts backs /receipts
	Events   Subscriber              // Events backs the /events websocket
	Metrics  http.Handler            // Metrics serves /metrics
	Snapshot func(w io.Writer) error // Snapshot streams a compressed store dump
}

// Server is the HTTP API server.
type Server struct {
	cfg      Config
	server   *http.Server       // server is the underlying HTTP server
	listener net.Listener       // listener is set by Start
	upgrader websocket.Upgrader // upgrader accepts /events clients
	done     chan struct{}      // done is closed by Stop to end websocket streams
	stopOnce sync.Once
}

// New creates a new HTTP API server.
func New(cfg Config) *Server {
	return &Server{
		cfg:  cfg,
		done: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /messages/{id}", s.handleMessage)
	mux.HandleFunc("GET /receipts/{id}", s.handleReceipt)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)

	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}

	return mux
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /events and /snapshot are long-lived responses.
	}

	go func() {
		logger.Info("http api started", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop ends websocket streams and gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// sourceJSON is a registered source in /status.
type sourceJSON struct {
	Address string `json:"address"`
	Weight  uint64 `json:"weight"`
}

// originJSON is a trusted upstream in /status.
type originJSON struct {
	ChainID  uint64 `json:"chainId"`
	Upstream string `json:"upstream"`
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	info := s.cfg.Engine.Info()

	sources := make([]sourceJSON, len(info.Sources))
	for i, src := range info.Sources {
		sources[i] = sourceJSON{Address: src.Address.String(), Weight: src.Weight}
	}

	origins := make([]originJSON, len(info.Origins))
	for i, o := range info.Origins {
		origins[i] = originJSON{ChainID: uint64(o.ChainID), Upstream: o.Upstream.String()}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"self":        info.Self.String(),
		"chainId":     uint64(info.ChainID),
		"initialized": info.Initialized,
		"threshold":   info.Threshold,
		"totalWeight": info.TotalWeight,
		"sources":     sources,
		"origins":     origins,
	})
}

// handleMessage handles GET /messages/{id} requests.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not available")
		return
	}

	id, err := message.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.cfg.Engine.Message(id)
	if err != nil {
		logger.Error("message lookup failed", "id", id.Short(), "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	attestors := make([]string, len(st.Attestors))
	for i, a := range st.Attestors {
		attestors[i] = a.String()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        st.ID.String(),
		"status":    st.Status.String(),
		"attestors": attestors,
		"power":     st.Power,
		"required":  st.Required,
	})
}

// handleReceipt handles GET /receipts/{id} requests.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Receipts == nil {
		writeError(w, http.StatusServiceUnavailable, "receipts not available")
		return
	}

	id, err := message.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, err := s.cfg.Receipts.Get(id)
	if err != nil {
		logger.Error("receipt lookup failed", "id", id.Short(), "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if rc == nil {
		writeError(w, http.StatusNotFound, "no receipt")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"msgId":      rc.MsgID.String(),
		"srcChainId": uint64(rc.SrcChainID),
		"signer":     hex.EncodeToString(rc.Signer),
		"signature":  hex.EncodeToString(rc.Signature),
	})
}

// handleSnapshot handles GET /snapshot requests.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot not available")
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="multibridge.snap"`)

	if err := s.cfg.Snapshot(w); err != nil {
		// Headers are gone once the body started, so only log.
		logger.Error("snapshot failed", "error", err)
	}
}

// handleEvents streams committed events over a websocket.
// An optional kinds query parameter filters by comma-separated kind names.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "events not available")
		return
	}

	filter, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.cfg.Events.Subscribe(eventBuffer)
	defer cancel()

	// The read side only drains control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	logger.Debug("event stream opened", "remote", r.RemoteAddr)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}

			if filter != nil && !filter[ev.Kind] {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-closed:
			return

		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// parseKinds parses a comma-separated list of event kind names. Empty means all.
func parseKinds(s string) (map[events.Kind]bool, error) {
	if s == "" {
		return nil, nil
	}

	filter := make(map[events.Kind]bool)

	for _, name := range strings.Split(s, ",") {
		kind, ok := events.ParseKind(strings.TrimSpace(name))
		if !ok {
			return nil, errors.New("unknown event kind: " + name)
		}
		filter[kind] = true
	}

	return filter, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
