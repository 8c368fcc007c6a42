package server

import (
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/audit"
	"github.com/JYehhh/tessenger/pkg/storage"
)

// Server is the Tessenger chat server: a TCP acceptor spawning one session
// goroutine per connection, the shared directory and group registry they
// mutate, and the HTTP status listener.
type Server struct {
	config    ServerConfig
	creds     CredentialStore
	guard     *LoginGuard
	directory *Directory
	groups    *GroupRegistry
	msgLog    audit.MessageSink
	archive   *storage.Archive
	metrics   *Metrics

	listener     net.Listener
	httpServer   *http.Server
	httpListener net.Listener
	cron         *cron.Cron
	shutdown     chan struct{}
	wg           sync.WaitGroup
	startTime    time.Time

	// Every live connection, including ones still authenticating, so Stop
	// can close them all.
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	nextSessionID atomic.Uint64
	msgSeq        atomic.Int64
}

// NewServer wires a server from its configuration. The credentials file is
// loaded once here; audit sinks and the archive are created under the
// configured data directory.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	creds, err := LoadCredentials(config.CredentialsFile)
	if err != nil {
		return nil, err
	}

	presenceLog, err := audit.NewFilePresenceSink(filepath.Join(config.DataDir, config.PresenceLogName))
	if err != nil {
		return nil, fmt.Errorf("failed to create presence log: %w", err)
	}
	msgLog, err := audit.NewFileMessageSink(filepath.Join(config.DataDir, config.MessageLogName))
	if err != nil {
		return nil, fmt.Errorf("failed to create message log: %w", err)
	}

	var archive *storage.Archive
	if config.ArchiveEnabled {
		archive, err = storage.Open(filepath.Join(config.DataDir, "archive.db"))
		if err != nil {
			return nil, err
		}
	}

	return &Server{
		config:    config,
		creds:     creds,
		guard:     NewLoginGuard(config.AttemptsCap, config.LockoutWindow),
		directory: NewDirectory(presenceLog),
		groups:    NewGroupRegistry(audit.NewFileGroupSinks(config.DataDir)),
		msgLog:    msgLog,
		archive:   archive,
		metrics:   NewMetrics(),
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the TCP and HTTP listeners and launches the accept loop and
// the maintenance scheduler. Failing to bind the TCP port is fatal.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Infof("TCP server listening on %s", listener.Addr())

	if s.config.HTTPPort >= 0 {
		if err := s.startHTTP(); err != nil {
			s.listener.Close()
			return err
		}
	}

	s.startMaintenance()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound TCP address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when the status listener
// is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Stop gracefully stops the server: no new connections, maintenance halted,
// every live session closed.
func (s *Server) Stop() error {
	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.cron != nil {
		s.cron.Stop()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()

	if s.archive != nil {
		return s.archive.Close()
	}
	return nil
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

// acceptLoop accepts incoming connections until shutdown.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Errorf("Accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// startMaintenance schedules the recurring jobs: pruning expired lockout
// entries and enforcing archive retention.
func (s *Server) startMaintenance() {
	s.cron = cron.New()

	s.cron.AddFunc("@every 1m", func() {
		if removed := s.guard.PruneExpired(); removed > 0 {
			log.Debugf("Pruned %d expired lockout entries", removed)
		}
	})

	if s.archive != nil && s.config.ArchiveMaxAge > 0 {
		s.cron.AddFunc("@hourly", func() {
			removed, err := s.archive.CleanupExpired(s.config.ArchiveMaxAge)
			if err != nil {
				log.Errorf("Archive cleanup failed: %v", err)
				return
			}
			if removed > 0 {
				log.Infof("Archive cleanup removed %d expired messages", removed)
			}
		})
	}

	s.cron.Start()
}

// ActiveUsers returns the current presence listing (no exclusions), for the
// HTTP status endpoint.
func (s *Server) ActiveUsers() []Presence {
	return s.directory.ListActive("")
}
