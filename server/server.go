// Package server exposes a session over HTTP and pushes its events to
// websocket subscribers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bosley/noties/audio"
	"github.com/bosley/noties/pipeline"
)

const (
	DefaultAddr          = ":8444"
	DefaultLevelInterval = 100 * time.Millisecond
	shutdownTimeout      = 5 * time.Second
)

// Controller is the session surface the API drives.
type Controller interface {
	ListDevices() []audio.Device
	StartMonitoring(device int) (audio.StreamConfig, error)
	StartCapturing() error
	StopCapturing() error
	StopStream()
	Level() int
	State() pipeline.State
	Snapshot() pipeline.Snapshot
	SwitchModel(name string) error
	Subscribe(o pipeline.Observer) func()
}

// Configuration for the HTTP server
type Config struct {
	Addr string

	// Certificate files for TLS; plain HTTP when empty
	CertFile string
	KeyFile  string

	// How often level frames are pushed while a stream is open
	LevelInterval time.Duration
}

type Server struct {
	config   Config
	ctl      Controller
	hub      *Hub
	router   *mux.Router
	upgrader websocket.Upgrader
}

func New(cfg Config, ctl Controller) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = DefaultLevelInterval
	}
	s := &Server{
		config: cfg,
		ctl:    ctl,
		hub:    NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", s.handleDevices).Methods("GET")
	api.HandleFunc("/stream/start", s.handleStreamStart).Methods("POST")
	api.HandleFunc("/stream/stop", s.handleStreamStop).Methods("POST")
	api.HandleFunc("/capture/start", s.handleCaptureStart).Methods("POST")
	api.HandleFunc("/capture/stop", s.handleCaptureStop).Methods("POST")
	api.HandleFunc("/level", s.handleLevel).Methods("GET")
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/model", s.handleModel).Methods("POST")
	router.HandleFunc("/ws", s.handleWebSocket)

	s.router = router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, pushing session events to
// subscribers meanwhile.
func (s *Server) Start(ctx context.Context) error {
	unsubscribe := s.ctl.Subscribe(s.hub)
	defer unsubscribe()
	go s.pumpLevels(ctx)

	server := &http.Server{
		Addr:    s.config.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.CertFile != "" && s.config.KeyFile != "" {
			err = server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("HTTP server listening", "addr", s.config.Addr, "tls", s.config.CertFile != "")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.CloseAll()
	return server.Shutdown(shutdownCtx)
}

// pumpLevels broadcasts the input level while a stream is open.
func (s *Server) pumpLevels(ctx context.Context) {
	ticker := time.NewTicker(s.config.LevelInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Len() == 0 {
				continue
			}
			switch s.ctl.State() {
			case pipeline.Monitoring, pipeline.Capturing:
				s.hub.Broadcast(Event{Type: EventLevel, Level: s.ctl.Level(), Timestamp: time.Now()})
			}
		}
	}
}
