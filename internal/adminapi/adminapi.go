// Package adminapi serves a small loopback-only REST and WebSocket
// surface for operators/dashboards: a status snapshot and a live stream
// of agent-connect and forward-registration events, sourced from the
// same hub primitive used for LOGS/METRICS (internal/hub). It is reached
// through the SNI router's bare-public-host route (spec.md §4.3); this
// package itself only ever binds loopback.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/make87/m87-tunnel/internal/forward"
	"github.com/make87/m87-tunnel/internal/hub"
)

// StatusSource reports point-in-time counts for the status endpoint.
type StatusSource interface {
	AgentCount() int
	ForwardCount() int
}

// ForwardRegistrar is the subset of forward.Registry the admin API drives,
// satisfying spec.md §4's "called by REST when an authorized caller asks
// for a forward URL" registration path.
type ForwardRegistrar interface {
	Upsert(sniHost string, m forward.Mapping)
	Remove(sniHost string)
}

// Server serves /status, /events and /forwards through the http.Handler
// returned by Mux.
type Server struct {
	status   StatusSource
	forwards ForwardRegistrar
	events   *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New builds an admin API server. events is the hub that produces
// agent-connect / forward-registration notifications; status reports
// live counts; forwards is the registry /forwards mutates.
func New(status StatusSource, forwards ForwardRegistrar, events *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		status:   status,
		forwards: forwards,
		events:   events,
		upgrader: websocket.Upgrader{
			// loopback-only surface: the router never forwards a
			// cross-origin browser request here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Mux returns the handler to serve on the loopback listener.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/forwards", s.handleForwards)
	return mux
}

type statusResponse struct {
	Agents   int `json:"agents"`
	Forwards int `json:"forwards"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Agents:   s.status.AgentCount(),
		Forwards: s.status.ForwardCount(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("admin events upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := s.events.Subscribe()
	defer sub.Close()

	conn.SetReadDeadline(time.Now().Add(time.Minute))
	go discardReads(conn)

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case err, ok := <-sub.Err():
			if ok && err != nil {
				s.logger.Info("admin events subscriber dropped", "err", err)
			}
			return
		}
	}
}

// forwardRequest is the JSON body of a PUT /forwards registration, mirroring
// spec.md §4's sni_host -> {agent_id, target_port, allowed_ips} mapping.
type forwardRequest struct {
	SNIHost    string   `json:"sni_host"`
	AgentID    string   `json:"agent_id"`
	TargetPort uint16   `json:"target_port"`
	AllowedIPs []string `json:"allowed_ips,omitempty"`
}

func (s *Server) handleForwards(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var req forwardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.SNIHost == "" || req.AgentID == "" {
			http.Error(w, "sni_host and agent_id are required", http.StatusBadRequest)
			return
		}
		var allowed map[string]struct{}
		if len(req.AllowedIPs) > 0 {
			allowed = make(map[string]struct{}, len(req.AllowedIPs))
			for _, raw := range req.AllowedIPs {
				if net.ParseIP(raw) == nil {
					http.Error(w, "invalid allowed_ips entry: "+raw, http.StatusBadRequest)
					return
				}
				allowed[raw] = struct{}{}
			}
		}
		s.forwards.Upsert(req.SNIHost, forward.Mapping{
			AgentID:    req.AgentID,
			TargetPort: req.TargetPort,
			AllowedIPs: allowed,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		sniHost := r.URL.Query().Get("sni_host")
		if sniHost == "" {
			http.Error(w, "sni_host query parameter is required", http.StatusBadRequest)
			return
		}
		s.forwards.Remove(sniHost)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "PUT, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// discardReads drains client-sent frames (pings/closes) so the websocket
// library's control-frame handling keeps working without the admin API
// needing to act on inbound data.
func discardReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
