package server

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JYehhh/tessenger/pkg/protocol"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.WarnLevel)
	os.Exit(m.Run())
}

// startTestServer boots a server on a random loopback port with a canned
// credentials file.
func startTestServer(t *testing.T, mutate func(*ServerConfig)) *Server {
	t.Helper()

	dir := t.TempDir()
	credsPath := filepath.Join(dir, "credentials.txt")
	require.NoError(t, os.WriteFile(credsPath,
		[]byte("alice wonderland123\nbob builder99\ncarol chocolate7\n"), 0600))

	cfg := DefaultConfig()
	cfg.TCPPort = 0
	cfg.HTTPPort = -1
	cfg.DataDir = dir
	cfg.CredentialsFile = credsPath
	cfg.ArchiveEnabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

// testClient drives the wire protocol over a real TCP connection.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialServer(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\n", line)
	require.NoError(c.t, err)
}

func (c *testClient) recv() *protocol.Response {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := protocol.ReadResponse(c.r)
	require.NoError(c.t, err)
	return resp
}

// expectNothing asserts no push arrives within the wait.
func (c *testClient) expectNothing(wait time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(wait))
	_, err := protocol.ReadResponse(c.r)
	require.Error(c.t, err)
	netErr, ok := err.(net.Error)
	require.True(c.t, ok, "expected a timeout, got %v", err)
	assert.True(c.t, netErr.Timeout())
}

func (c *testClient) login(user, pass, udpPort string) {
	c.t.Helper()
	c.send(protocol.ReqLoginUsername + " " + user)
	resp := c.recv()
	require.Equal(c.t, protocol.StatusSuccess, resp.StatusCode)

	c.send(fmt.Sprintf("%s %s 127.0.0.1 %s", protocol.ReqLoginPassword, pass, udpPort))
	resp = c.recv()
	require.Equal(c.t, protocol.StatusSuccess, resp.StatusCode)
}

func TestLoginFlow(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	c.send("[loginusername] alice")
	resp := c.recv()
	assert.Equal(t, protocol.CmdLoginUsername, resp.Command)
	assert.Equal(t, protocol.StatusSuccess, resp.StatusCode)

	c.send("[loginpassword] wonderland123 127.0.0.1 5001")
	resp = c.recv()
	assert.Equal(t, protocol.CmdLoginPassword, resp.Command)
	assert.Equal(t, protocol.StatusSuccess, resp.StatusCode)
}

func TestLoginUnknownUsername(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	c.send("[loginusername] mallory")
	resp := c.recv()
	assert.Equal(t, protocol.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Invalid Username, please try again.", resp.ClientMessage)

	// The session stays usable for another attempt.
	c.send("[loginusername] alice")
	resp = c.recv()
	assert.Equal(t, protocol.StatusSuccess, resp.StatusCode)
}

func TestLoginWrongPassword(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	c.send("[loginusername] alice")
	c.recv()
	c.send("[loginpassword] nope 127.0.0.1 5001")
	resp := c.recv()
	assert.Equal(t, protocol.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid Password.", resp.ClientMessage)
}

func TestCommandsBeforeLogin(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	c.send("/activeuser")
	resp := c.recv()
	assert.Equal(t, protocol.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Error: Please log in first.", resp.ClientMessage)

	c.send("/bogus whatever")
	resp = c.recv()
	assert.Equal(t, protocol.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Error: Invalid command!", resp.ClientMessage)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	srv := startTestServer(t, func(cfg *ServerConfig) {
		cfg.AttemptsCap = 3
		cfg.LockoutWindow = 500 * time.Millisecond
	})

	c := dialServer(t, srv)
	c.send("[loginusername] alice")
	c.recv()

	for i := 0; i < 2; i++ {
		c.send("[loginpassword] nope 127.0.0.1 5001")
		resp := c.recv()
		require.Equal(t, protocol.StatusUnauthorized, resp.StatusCode)
	}
	c.send("[loginpassword] nope 127.0.0.1 5001")
	resp := c.recv()
	require.Equal(t, protocol.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Invalid Password. Your account has been blocked. Please try again later", resp.ClientMessage)

	// A fresh connection with the right password is still refused during
	// the cooldown.
	c2 := dialServer(t, srv)
	c2.send("[loginusername] alice")
	c2.recv()
	c2.send("[loginpassword] wonderland123 127.0.0.1 5001")
	resp = c2.recv()
	require.Equal(t, protocol.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Your account is blocked due to multiple login failures. Please try again later", resp.ClientMessage)

	// Another user is unaffected.
	c3 := dialServer(t, srv)
	c3.login("bob", "builder99", "5002")

	// After the window the lockout falls away on its own.
	time.Sleep(600 * time.Millisecond)
	c4 := dialServer(t, srv)
	c4.login("alice", "wonderland123", "5001")
}

func TestDirectMessage(t *testing.T) {
	srv := startTestServer(t, nil)
	alice := dialServer(t, srv)
	bob := dialServer(t, srv)
	alice.login("alice", "wonderland123", "5001")
	bob.login("bob", "builder99", "5002")

	alice.send("/msgto bob hello there, bob")
	resp := alice.recv()
	assert.Equal(t, protocol.CmdMsgTo, resp.Command)
	assert.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Contains(t, resp.ClientMessage, "message sent at")

	push := bob.recv()
	assert.Equal(t, protocol.CmdIncomingMessage, push.Command)
	assert.Equal(t, protocol.StatusSuccess, push.StatusCode)
	assert.Contains(t, push.ClientMessage, "alice: hello there, bob")
}

func TestDirectMessageRecipientOffline(t *testing.T) {
	srv := startTestServer(t, nil)
	alice := dialServer(t, srv)
	alice.login("alice", "wonderland123", "5001")

	alice.send("/msgto carol anyone home")
	resp := alice.recv()
	assert.Equal(t, protocol.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Error: Recipient Not Found!", resp.ClientMessage)
}

func TestDirectMessageBadFormat(t *testing.T) {
	srv := startTestServer(t, nil)
	alice := dialServer(t, srv)
	alice.login("alice", "wonderland123", "5001")

	alice.send("/msgto bob")
	resp := alice.recv()
	assert.Equal(t, protocol.StatusClientError, resp.StatusCode)
}

func TestActiveUser(t *testing.T) {
	srv := startTestServer(t, nil)
	alice := dialServer(t, srv)
	alice.login("alice", "wonderland123", "5001")

	alice.send("/activeuser")
	resp := alice.recv()
	require.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Equal(t, "no other active user", resp.ClientMessage)
	assert.Nil(t, resp.Data.ClientIPs)

	bob := dialServer(t, srv)
	bob.login("bob", "builder99", "5002")

	alice.send("/activeuser")
	resp = alice.recv()
	require.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Contains(t, resp.ClientMessage, "bob, active since")
	assert.Contains(t, resp.ClientMessage, "Client IP is 127.0.0.1 with UDP receiving port: 5002")
	assert.NotContains(t, resp.ClientMessage, "alice,")
	assert.Equal(t, map[string]string{"bob": "127.0.0.1"}, resp.Data.ClientIPs)
	assert.Equal(t, map[string]string{"bob": "5002"}, resp.Data.UDPPorts)
}

func TestGroupChat(t *testing.T) {
	srv := startTestServer(t, nil)
	alice := dialServer(t, srv)
	bob := dialServer(t, srv)
	carol := dialServer(t, srv)
	alice.login("alice", "wonderland123", "5001")
	bob.login("bob", "builder99", "5002")
	carol.login("carol", "chocolate7", "5003")

	alice.send("/creategroup study bob carol")
	resp := alice.recv()
	require.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Equal(t, "Group chat room has been created, room name: study, users in this room: alice bob carol",
		resp.ClientMessage)

	// Invited but not joined cannot post yet.
	bob.send("/groupmsg study hi all")
	resp = bob.recv()
	require.Equal(t, protocol.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Error: Please join the group before sending messages.", resp.ClientMessage)

	bob.send("/joingroup study")
	resp = bob.recv()
	require.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Contains(t, resp.ClientMessage, "successfully joined")

	// Fanout reaches joined members only; carol never joined.
	bob.send("/groupmsg study hi all")
	resp = bob.recv()
	require.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Equal(t, "Group chat message sent.", resp.ClientMessage)

	push := alice.recv()
	assert.Equal(t, protocol.CmdIncomingGroupMsg, push.Command)
	assert.Contains(t, push.ClientMessage, "study, bob: hi all")

	carol.expectNothing(300 * time.Millisecond)
}

func TestGroupChatErrors(t *testing.T) {
	srv := startTestServer(t, nil)
	alice := dialServer(t, srv)
	bob := dialServer(t, srv)
	alice.login("alice", "wonderland123", "5001")
	bob.login("bob", "builder99", "5002")

	alice.send("/creategroup study bob")
	require.Equal(t, protocol.StatusSuccess, alice.recv().StatusCode)

	// Duplicate name.
	alice.send("/creategroup study bob")
	resp := alice.recv()
	assert.Equal(t, protocol.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Error: a group chat (Name: study) already exist.", resp.ClientMessage)

	// Offline invitee.
	alice.send("/creategroup other carol")
	resp = alice.recv()
	assert.Equal(t, protocol.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Error: carol is offline, or an invalid username.", resp.ClientMessage)

	// Non-alphanumeric name.
	alice.send("/creategroup bad-name bob")
	resp = alice.recv()
	assert.Equal(t, protocol.StatusClientError, resp.StatusCode)

	// Missing group.
	bob.send("/joingroup nosuch")
	resp = bob.recv()
	assert.Equal(t, protocol.StatusNotFound, resp.StatusCode)

	// Uninvited sender.
	alice.send("/creategroup private alice")
	require.Equal(t, protocol.StatusSuccess, alice.recv().StatusCode)
	bob.send("/groupmsg private sneaky")
	resp = bob.recv()
	assert.Equal(t, protocol.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Error: You are not in this group chat.", resp.ClientMessage)
}

func TestLogout(t *testing.T) {
	srv := startTestServer(t, nil)
	alice := dialServer(t, srv)
	bob := dialServer(t, srv)
	alice.login("alice", "wonderland123", "5001")
	bob.login("bob", "builder99", "5002")

	bob.send("/logout")
	resp := bob.recv()
	assert.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Equal(t, "Logout successful. Goodbye!", resp.ClientMessage)

	// Presence is gone for everyone else.
	deadline := time.Now().Add(time.Second)
	for {
		alice.send("/msgto bob still there?")
		resp = alice.recv()
		if resp.StatusCode == protocol.StatusNotFound || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, protocol.StatusNotFound, resp.StatusCode)
}

func TestDuplicateLoginDisplacesOldSession(t *testing.T) {
	srv := startTestServer(t, nil)
	first := dialServer(t, srv)
	first.login("alice", "wonderland123", "5001")

	second := dialServer(t, srv)
	second.login("alice", "wonderland123", "5009")

	// The old socket is closed by the server.
	first.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := protocol.ReadResponse(first.r)
	require.Error(t, err)

	// The new session owns the presence entry.
	bob := dialServer(t, srv)
	bob.login("bob", "builder99", "5002")
	bob.send("/activeuser")
	resp := bob.recv()
	require.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Contains(t, resp.ClientMessage, "UDP receiving port: 5009")
}

func TestPresenceLogWrittenAndRewritten(t *testing.T) {
	srv := startTestServer(t, nil)
	logPath := filepath.Join(srv.config.DataDir, srv.config.PresenceLogName)

	alice := dialServer(t, srv)
	bob := dialServer(t, srv)
	alice.login("alice", "wonderland123", "5001")
	bob.login("bob", "builder99", "5002")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "1; "))
	assert.Contains(t, lines[0], "alice")
	assert.True(t, strings.HasPrefix(lines[1], "2; "))
	assert.Contains(t, lines[1], "bob")

	alice.send("/logout")
	alice.recv()

	// The log is rewritten with the compacted numbering.
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		if err != nil {
			return false
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		return len(lines) == 1 && strings.HasPrefix(lines[0], "1; ") && strings.Contains(lines[0], "bob")
	}, time.Second, 20*time.Millisecond)
}
