// Package web serves the job status API and a live result stream for
// monitoring merge activity.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"burstmerge/internal/pipeline"
	"burstmerge/internal/storage"
)

// Server exposes recent jobs and burst groups over HTTP and streams
// completed results to websocket clients.
type Server struct {
	port     int
	log      *slog.Logger
	store    *storage.Store
	pipe     *pipeline.Pipeline
	upgrader websocket.Upgrader
	hub      *resultHub
}

// resultHub fans completed job results out to websocket clients.
type resultHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	log        *slog.Logger
}

type jobView struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"inputPath"`
	OutputPath  string     `json:"outputPath,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type burstView struct {
	JobID        string `json:"jobId"`
	BasePath     string `json:"basePath"`
	FrameCount   int    `json:"frameCount"`
	MosaicPeriod int    `json:"mosaicPeriod"`
	WhiteLevel   int    `json:"whiteLevel"`
}

type resultEvent struct {
	JobID     string         `json:"jobId"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewServer creates the status server.
func NewServer(port int, store *storage.Store, pipe *pipeline.Pipeline, logger *slog.Logger) *Server {
	hub := &resultHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		log:        logger,
	}
	return &Server{
		port:  port,
		log:   logger,
		store: store,
		pipe:  pipe,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub: hub,
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)
	go s.streamResults(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/api/jobs", s.handleJobs).Methods("GET")
	router.HandleFunc("/api/jobs/{id}", s.handleJob).Methods("GET")
	router.HandleFunc("/api/bursts", s.handleBursts).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("status server listening", "port", s.port)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.RecentJobs(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]jobView, 0, len(records))
	for _, rec := range records {
		views = append(views, jobViewFrom(rec))
	}
	writeJSON(w, views)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.store.JobMeta(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"id": id, "meta": meta})
}

func (s *Server) handleBursts(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.BurstGroups(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]burstView, 0, len(records))
	for _, rec := range records {
		views = append(views, burstView{
			JobID:        rec.JobID,
			BasePath:     rec.BasePath,
			FrameCount:   rec.FrameCount,
			MosaicPeriod: rec.MosaicPeriod,
			WhiteLevel:   rec.WhiteLevel,
		})
	}
	writeJSON(w, views)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// streamResults forwards completed pipeline results to websocket clients.
func (s *Server) streamResults(ctx context.Context) {
	results, unsub := s.pipe.Subscribe()
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			event := resultEvent{
				JobID:     res.Job.ID,
				Type:      string(res.Job.Type),
				Status:    "completed",
				Meta:      res.Meta,
				Timestamp: time.Now(),
			}
			if res.Error != nil {
				event.Status = "failed"
				event.Error = res.Error.Error()
			}
			if payload, err := json.Marshal(event); err == nil {
				select {
				case s.hub.broadcast <- payload:
				default:
				}
			}
		}
	}
}

func (h *resultHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug("websocket client disconnected", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}

func jobViewFrom(rec storage.JobRecord) jobView {
	return jobView{
		ID:          rec.ID,
		Type:        rec.JobType,
		Status:      rec.Status,
		InputPath:   rec.InputPath,
		OutputPath:  rec.OutputPath,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
