// Package status exposes the watch loop over HTTP: health and readiness
// endpoints, per-source snapshots, episode history, printer status and control,
// and a websocket that streams raise and clear events as they happen
package status

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	perr "printguard/internal/platform/errors"
	"printguard/internal/platform/logger"
	phttp "printguard/internal/platform/net/http"
	"printguard/internal/platform/net/http/bind"
	"printguard/internal/services/history"
	"printguard/internal/services/watch/domain"
)

// PrinterControl is what the API needs from a printer beyond the watch port
type PrinterControl interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Cancel(ctx context.Context) error
	Status(ctx context.Context) (json.RawMessage, error)
}

// Server mounts the status API on a platform HTTP server
type Server struct {
	status  domain.StatusPort
	store   *history.Store
	printer PrinterControl
	hub     *Hub
	log     *logger.Logger

	upgrader websocket.Upgrader
}

// NewServer builds the route set. store, printer and hub may be nil; the
// corresponding routes then answer 503
func NewServer(status domain.StatusPort, store *history.Store, printer PrinterControl, hub *Hub) *Server {
	return &Server{
		status:  status,
		store:   store,
		printer: printer,
		hub:     hub,
		log:     logger.Named("status"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*stdhttp.Request) bool { return true },
		},
	}
}

// Mount registers all routes on the mux
func (s *Server) Mount(mux *chi.Mux) {
	mux.Get("/healthz", s.handleHealthz)
	mux.Get("/readyz", s.handleReadyz)
	mux.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.handleSources)
		r.Get("/episodes", s.handleEpisodes)
		r.Get("/printer", s.handlePrinterStatus)
		r.Post("/printer/action", s.handlePrinterAction)
	})
	mux.Get("/ws", s.handleWS)
}

func (s *Server) handleHealthz(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	phttp.RespondOK(w, map[string]string{"status": "ok"})
}

// handleReadyz answers 503 until the watch loop has completed a full tick
func (s *Server) handleReadyz(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	if !s.status.Ready() {
		phttp.RespondError(w, perr.Unavailablef("watch loop not ready"))
		return
	}
	phttp.RespondOK(w, map[string]string{"status": "ready"})
}

func (s *Server) handleSources(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	phttp.RespondOK(w, s.status.Snapshots())
}

func (s *Server) handleEpisodes(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if s.store == nil {
		phttp.RespondError(w, perr.Unavailablef("history is not enabled"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			phttp.RespondError(w, perr.InvalidArgf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}

	var (
		eps []history.Episode
		err error
	)
	if r.URL.Query().Get("open") == "true" {
		eps, err = s.store.OpenEpisodes(r.Context())
	} else {
		eps, err = s.store.RecentEpisodes(r.Context(), limit)
	}
	if err != nil {
		phttp.RespondError(w, err)
		return
	}
	if eps == nil {
		eps = []history.Episode{}
	}
	phttp.RespondOK(w, eps)
}

func (s *Server) handlePrinterStatus(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if s.printer == nil {
		phttp.RespondError(w, perr.Unavailablef("printer control is not enabled"))
		return
	}
	raw, err := s.printer.Status(r.Context())
	if err != nil {
		phttp.RespondError(w, err)
		return
	}
	phttp.RespondOK(w, raw)
}

// actionRequest is the body of POST /api/printer/action
type actionRequest struct {
	Action string `json:"action" validate:"required,oneof=pause resume cancel"`
}

func (s *Server) handlePrinterAction(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if s.printer == nil {
		phttp.RespondError(w, perr.Unavailablef("printer control is not enabled"))
		return
	}
	req, err := bind.ParseJSON[actionRequest](r)
	if err != nil {
		phttp.RespondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	switch req.Action {
	case "pause":
		err = s.printer.Pause(ctx)
	case "resume":
		err = s.printer.Resume(ctx)
	case "cancel":
		err = s.printer.Cancel(ctx)
	}
	if err != nil {
		phttp.RespondError(w, err)
		return
	}
	s.log.Info().Str("action", req.Action).Msg("printer action via api")
	phttp.RespondOK(w, map[string]string{"action": req.Action})
}

func (s *Server) handleWS(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if s.hub == nil {
		phttp.RespondError(w, perr.Unavailablef("event stream is not enabled"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.Register(conn)

	// drain control frames; any read error means the client went away
	go func() {
		defer s.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
