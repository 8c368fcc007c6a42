package client_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JYehhh/tessenger/pkg/client"
	"github.com/JYehhh/tessenger/pkg/protocol"
	"github.com/JYehhh/tessenger/pkg/server"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()

	dir := t.TempDir()
	credsPath := filepath.Join(dir, "credentials.txt")
	require.NoError(t, os.WriteFile(credsPath,
		[]byte("alice wonderland123\nbob builder99\n"), 0600))

	cfg := server.DefaultConfig()
	cfg.TCPPort = 0
	cfg.HTTPPort = -1
	cfg.DataDir = dir
	cfg.CredentialsFile = credsPath
	cfg.ArchiveEnabled = false

	srv, err := server.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func loggedIn(t *testing.T, srv *server.Server, user, pass, udpPort string) *client.Connection {
	t.Helper()

	conn := client.NewConnection(srv.Addr().String())
	require.NoError(t, conn.Connect())
	t.Cleanup(func() { conn.Close() })

	resp, err := conn.Login(user, pass, udpPort)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	conn.Start()
	return conn
}

func TestLoginAndRequest(t *testing.T) {
	srv := startServer(t)
	conn := loggedIn(t, srv, "alice", "wonderland123", "5001")

	resp, err := conn.Request(protocol.ReqActiveUser)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdActiveUser, resp.Command)
	assert.Equal(t, protocol.StatusSuccess, resp.StatusCode)
	assert.Equal(t, "no other active user", resp.ClientMessage)
}

func TestLoginRejected(t *testing.T) {
	srv := startServer(t)

	conn := client.NewConnection(srv.Addr().String())
	require.NoError(t, conn.Connect())
	defer conn.Close()

	resp, err := conn.Login("alice", "wrong", "5001")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusUnauthorized, resp.StatusCode)
}

func TestPushesBypassRequestStream(t *testing.T) {
	srv := startServer(t)
	alice := loggedIn(t, srv, "alice", "wonderland123", "5001")
	bob := loggedIn(t, srv, "bob", "builder99", "5002")

	resp, err := alice.Request("/msgto bob ping")
	require.NoError(t, err)
	require.Equal(t, protocol.StatusSuccess, resp.StatusCode)

	select {
	case push := <-bob.Pushes():
		assert.Equal(t, protocol.CmdIncomingMessage, push.Command)
		assert.Contains(t, push.ClientMessage, "alice: ping")
	case <-time.After(2 * time.Second):
		t.Fatal("push never arrived")
	}

	// A request on bob's connection still sees its own reply even with
	// pushes in flight.
	resp, err = bob.Request(protocol.ReqActiveUser)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdActiveUser, resp.Command)
}

func TestAddressBookFromActiveUser(t *testing.T) {
	srv := startServer(t)
	alice := loggedIn(t, srv, "alice", "wonderland123", "5001")
	loggedIn(t, srv, "bob", "builder99", "5002")

	resp, err := alice.Request(protocol.ReqActiveUser)
	require.NoError(t, err)

	book := client.NewAddressBook()
	book.Update(resp.Data)

	addr, err := book.Resolve("bob")
	require.NoError(t, err)
	assert.Equal(t, "5002", addr.UDPPort)
	assert.NotEmpty(t, addr.IP)

	_, err = book.Resolve("carol")
	assert.ErrorIs(t, err, client.ErrPeerUnknown)
}

func TestRequestAfterClose(t *testing.T) {
	srv := startServer(t)
	conn := loggedIn(t, srv, "alice", "wonderland123", "5001")

	require.NoError(t, conn.Close())
	_, err := conn.Request(protocol.ReqActiveUser)
	assert.ErrorIs(t, err, client.ErrNotConnected)
}
