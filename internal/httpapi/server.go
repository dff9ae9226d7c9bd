package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kotoba-labs/kaiwa/internal/config"
	"github.com/kotoba-labs/kaiwa/internal/memory"
	"github.com/kotoba-labs/kaiwa/internal/observability"
	"github.com/kotoba-labs/kaiwa/internal/protocol"
	"github.com/kotoba-labs/kaiwa/internal/session"
)

const maxUploadBytes = 8 << 20

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	store    memory.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	ui       http.Handler
}

func New(cfg config.Config, sessions *session.Manager, store memory.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		metrics:  metrics,
		ui:       tutorUIHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open a conversation unless
				// explicitly overridden; other sites must not be able to
				// drive the learner's mic session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.ui))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleWS)
	r.Post("/api/sessions/{id}/upload-image", s.handleUploadImage)
	r.Get("/api/profile", s.handleProfile)
	r.Get("/api/lessons", s.handleLessons)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// handleWS opens one conversation per websocket connection. The session
// lives exactly as long as the socket unless it ends itself first.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) error {
		select {
		case outbound <- msg:
			return nil
		default:
			// Keep websocket writes single-threaded; drop when the client
			// cannot keep up rather than stall the pipeline.
			if s.metrics != nil {
				s.metrics.WSMessages.WithLabelValues("outbound", "dropped").Inc()
			}
			return nil
		}
	}

	sess, err := s.sessions.Open(ctx, session.Sender(send))
	if err != nil {
		_ = conn.WriteJSON(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "session_open_failed",
			Source: "gateway",
			Detail: err.Error(),
		})
		return
	}
	defer sess.Close()

	_ = conn.WriteJSON(map[string]any{"type": "session_started", "session_id": sess.ID})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				// Drain whatever the farewell left behind, then hang up.
				for {
					select {
					case msg := <-outbound:
						_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
						_ = conn.WriteJSON(msg)
					default:
						cancel()
						return
					}
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if s.metrics != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", "sent").Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(maxUploadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", "received").Inc()
		}
		sess.HandleMessage(ctx, data)
	}

	cancel()
	<-writerDone
}

// handleUploadImage accepts a multipart image for a live session, mirroring
// the websocket client_image path for clients that prefer plain HTTP.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", "missing image field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		respondError(w, http.StatusUnsupportedMediaType, "not_an_image", "uploaded file is not an image")
		return
	}

	sess.HandleUpload(data, mime, r.FormValue("caption"))
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "bytes": len(data)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.Profile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.store.RecentLessons(r.Context(), 10)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, lessons)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
