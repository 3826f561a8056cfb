// internal/statusapi/server.go
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/tamzrod/display-link/internal/dispatch"
	"github.com/tamzrod/display-link/internal/events"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/status"
)

// Link is the part of the connection machine the surface controls.
type Link interface {
	StartScan() error
	Choose(id string) error
	Disconnect() error
	Devices() []link.DeviceRecord
	State() link.State
}

// Refresher asks the runner for an out-of-band update.
type Refresher interface {
	Refresh()
	Redraw()
}

// Deps are what the server reads and drives. Buses may be nil.
type Deps struct {
	Link    Link
	Runner  Refresher
	Tracker *status.Tracker

	States        *events.Bus[link.StateChange]
	Notifications *events.Bus[link.Inbound]
	Reports       *events.Bus[dispatch.Report]
}

// Server is the HTTP + websocket status and control surface.
type Server struct {
	addr string
	d    Deps
	log  hclog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// New creates a server for addr. Nothing listens until Run.
func New(addr string, d Deps, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		addr: addr,
		d:    d,
		log:  logger,
		upgrader: websocket.Upgrader{
			// Local control surface; browsers on other origins are allowed.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/disconnect", s.handleDisconnect)
	mux.HandleFunc("/refresh", s.handleRefresh)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Run listens until ctx ends, then shuts down and drops websocket clients.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("status api listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(sctx)

	// Hijacked connections are not closed by Shutdown.
	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ---- handlers ----

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.d.Tracker == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	b, err := status.Encode(s.d.Tracker.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

type devicesResponse struct {
	State   link.State          `json:"state"`
	Devices []link.DeviceRecord `json:"devices"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	devs := s.d.Link.Devices()
	if devs == nil {
		devs = []link.DeviceRecord{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{State: s.d.Link.State(), Devices: devs})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "scan", s.d.Link.StartScan)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" && r.Method == http.MethodPost {
		writeError(w, http.StatusBadRequest, errors.New("missing id"))
		return
	}
	s.command(w, r, "connect", func() error { return s.d.Link.Choose(id) })
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "disconnect", s.d.Link.Disconnect)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "refresh", func() error {
		if r.URL.Query().Get("full") != "" {
			s.d.Runner.Redraw()
		} else {
			s.d.Runner.Refresh()
		}
		return nil
	})
}

// command runs fn for a POST. Outcomes arrive later on /ws and /status.
func (s *Server) command(w http.ResponseWriter, r *http.Request, name string, fn func() error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := fn(); err != nil {
		s.log.Warn("command rejected", "command", name, "error", err)
		code := http.StatusBadRequest
		if errors.Is(err, link.ErrMachineStopped) {
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, err)
		return
	}
	s.log.Debug("command accepted", "command", name)
	writeJSON(w, http.StatusAccepted, map[string]string{"accepted": name})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
