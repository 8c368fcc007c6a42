package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/protocol"
	"github.com/JYehhh/tessenger/pkg/storage"
)

// startHTTP launches the status listener: health, metrics, the active-user
// listing, and the WebSocket transport.
func (s *Server) startHTTP() error {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/api/active", s.handleActiveUsersJSON).Methods(http.MethodGet)
	router.HandleFunc("/api/history/{kind}/{name}", s.handleHistoryJSON).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP %s: %w", addr, err)
	}
	s.httpListener = ln
	log.Infof("HTTP status server listening on %s", ln.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"active_users":   s.directory.Count(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// activeUserEntry is the JSON shape of one presence row.
type activeUserEntry struct {
	Seq       int    `json:"seq"`
	Username  string `json:"username"`
	LoginTime string `json:"login_time"`
	IP        string `json:"ip"`
	UDPPort   string `json:"udp_port"`
}

// handleHistoryJSON serves archived message history for a user (kind
// "direct") or a group (kind "group"), newest first.
func (s *Server) handleHistoryJSON(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}

	vars := mux.Vars(r)
	kind := vars["kind"]
	if kind != storage.KindDirect && kind != storage.KindGroup {
		http.Error(w, "kind must be direct or group", http.StatusBadRequest)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "limit must be 1-1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := s.archive.History(kind, vars["name"], limit)
	if err != nil {
		log.Errorf("History query failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*storage.ArchivedMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func (s *Server) handleActiveUsersJSON(w http.ResponseWriter, r *http.Request) {
	entries := s.ActiveUsers()

	out := make([]activeUserEntry, 0, len(entries))
	for _, p := range entries {
		out = append(out, activeUserEntry{
			Seq:       p.Seq,
			Username:  p.Username,
			LoginTime: protocol.FormatTimestamp(p.LoginTime),
			IP:        p.IP,
			UDPPort:   p.UDPPort,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
