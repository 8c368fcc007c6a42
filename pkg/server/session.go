package server

import (
	"bufio"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/protocol"
)

// sessionState is the per-connection protocol state.
type sessionState int

const (
	stateAwaitingUsername sessionState = iota
	stateAwaitingPassword
	stateAuthenticated
	stateTerminated
)

// Session is the server-side state for one client connection. It is owned
// exclusively by its handling goroutine; other sessions reach it only
// through the Directory and only to write to its SafeConn.
type Session struct {
	ID       uint64
	Conn     *SafeConn
	state    sessionState
	username string
	peerIP   string
	udpPort  string
}

// handleConnection runs one session to completion.
func (s *Server) handleConnection(conn net.Conn) {
	s.trackConn(conn)
	defer s.untrackConn(conn)
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := &Session{
		ID:   s.nextSessionID.Add(1),
		Conn: NewSafeConn(conn, s.config.SendTimeout),
	}
	s.metrics.RecordConnection()
	log.Infof("New connection from %s (session %d)", conn.RemoteAddr(), sess.ID)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxLineSize)

	for sess.state != stateTerminated {
		if !scanner.Scan() {
			// Peer disconnected or the read failed.
			s.endSession(sess, true)
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			// An empty request means the client has gone away.
			s.endSession(sess, true)
			break
		}

		resp := s.dispatch(sess, line)
		if resp == nil {
			continue
		}
		if err := sess.Conn.WriteResponse(resp); err != nil {
			log.Warnf("Session %d write error: %v", sess.ID, err)
			s.endSession(sess, false)
			break
		}
	}

	log.Infof("Session %d closed", sess.ID)
}

// dispatch routes one request line according to the session state. Panics in
// handlers are converted to an InternalServerError response so a bad request
// can never take down the handling goroutine.
func (s *Server) dispatch(sess *Session, line string) (resp *protocol.Response) {
	keyword := protocol.Keyword(line)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Session %d panic handling %q: %v", sess.ID, keyword, r)
			resp = protocol.NewResponse(protocol.CommandForKeyword(keyword),
				protocol.StatusInternalServerError, "Server Error: internal failure")
		}
	}()

	switch sess.state {
	case stateAwaitingUsername:
		if keyword == protocol.ReqLoginUsername {
			return s.handleLoginUsername(sess, line)
		}
		return preAuthResponse(keyword)
	case stateAwaitingPassword:
		if keyword == protocol.ReqLoginPassword {
			return s.handleLoginPassword(sess, line)
		}
		return preAuthResponse(keyword)
	case stateAuthenticated:
		return s.dispatchCommand(sess, keyword, line)
	}
	return nil
}

// preAuthResponse answers commands issued before authentication completes.
func preAuthResponse(keyword string) *protocol.Response {
	command := protocol.CommandForKeyword(keyword)
	if command == protocol.CmdUnknown {
		return protocol.NewResponse(protocol.CmdUnknown, protocol.StatusNotFound, "Error: Invalid command!")
	}
	return protocol.NewResponse(command, protocol.StatusUnauthorized, "Error: Please log in first.")
}

// handleLoginUsername processes "[loginusername] <name>".
func (s *Server) handleLoginUsername(sess *Session, line string) *protocol.Response {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return protocol.NewResponse(protocol.CmdLoginUsername, protocol.StatusClientError,
			"Error: Invalid command format. Usage: [loginusername] USERNAME")
	}
	username := fields[1]

	log.Infof("Session %d: login request for user %s", sess.ID, username)
	if !s.creds.Exists(username) {
		s.metrics.RecordLogin("unknown_user")
		return protocol.NewResponse(protocol.CmdLoginUsername, protocol.StatusNotFound,
			"Invalid Username, please try again.")
	}

	sess.username = username
	sess.state = stateAwaitingPassword
	return protocol.NewResponse(protocol.CmdLoginUsername, protocol.StatusSuccess, "")
}

// handleLoginPassword processes "[loginpassword] <secret> <client_ip> <udp_port>".
func (s *Server) handleLoginPassword(sess *Session, line string) *protocol.Response {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		log.Warnf("Session %d: bad password request", sess.ID)
		return protocol.NewResponse(protocol.CmdLoginPassword, protocol.StatusInternalServerError,
			"Server Error: Malformed password request")
	}
	secret, clientIP, udpPort := fields[1], fields[2], fields[3]

	if s.guard.IsBlocked(sess.username) {
		s.metrics.RecordLogin("blocked")
		sess.state = stateTerminated
		return protocol.NewResponse(protocol.CmdLoginPassword, protocol.StatusForbidden,
			"Your account is blocked due to multiple login failures. Please try again later")
	}

	if !s.creds.Verify(sess.username, secret) {
		if s.guard.RecordFailure(sess.username) {
			log.Warnf("Session %d: account %s locked out", sess.ID, sess.username)
			s.metrics.RecordLogin("blocked")
			sess.state = stateTerminated
			return protocol.NewResponse(protocol.CmdLoginPassword, protocol.StatusForbidden,
				"Invalid Password. Your account has been blocked. Please try again later")
		}
		s.metrics.RecordLogin("wrong_password")
		return protocol.NewResponse(protocol.CmdLoginPassword, protocol.StatusUnauthorized,
			"Invalid Password.")
	}

	s.guard.RecordSuccess(sess.username)
	sess.peerIP = clientIP
	sess.udpPort = udpPort

	seq, displaced := s.directory.Register(sess.username, sess, clientIP, udpPort)
	if displaced != nil {
		log.Warnf("User %s logged in again; closing previous session %d", sess.username, displaced.ID)
		displaced.Conn.Close()
	}

	sess.state = stateAuthenticated
	s.metrics.RecordLogin("success")
	s.metrics.RecordActiveUsers(s.directory.Count())
	log.Infof("Session %d: user %s authenticated (presence #%d)", sess.ID, sess.username, seq)

	return protocol.NewResponse(protocol.CmdLoginPassword, protocol.StatusSuccess, "")
}

// endSession releases the session's directory entry and, when the channel is
// still writable, says goodbye. Safe to call for sessions in any state.
func (s *Server) endSession(sess *Session, goodbye bool) {
	if sess.state == stateAuthenticated {
		s.directory.Unregister(sess.username, sess)
		s.metrics.RecordActiveUsers(s.directory.Count())
		log.Infof("User %s disconnected (session %d)", sess.username, sess.ID)
	}
	sess.state = stateTerminated

	if goodbye {
		// Best effort; the peer may already be gone.
		sess.Conn.WriteResponse(protocol.NewResponse(protocol.CmdLogout, protocol.StatusSuccess,
			"Logout successful. Goodbye!"))
	}
}
