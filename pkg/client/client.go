package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/protocol"
)

var (
	// ErrNotConnected is returned for requests on a closed connection.
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout is returned when the server does not answer in time.
	ErrTimeout = errors.New("timed out waiting for server response")
)

// Connection is a client connection to the chat server. After Start, a
// reader goroutine splits the inbound stream: pushed messages go to the
// Pushes channel, everything else answers the in-flight request.
type Connection struct {
	addr string

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool

	replies chan *protocol.Response
	pushes  chan *protocol.Response
	errs    chan error

	requestTimeout time.Duration

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewConnection returns an unconnected client for addr (host:port).
func NewConnection(addr string) *Connection {
	return &Connection{
		addr:           addr,
		replies:        make(chan *protocol.Response, 16),
		pushes:         make(chan *protocol.Response, 64),
		errs:           make(chan error, 4),
		requestTimeout: 10 * time.Second,
		shutdown:       make(chan struct{}),
	}
}

// Connect dials the server.
func (c *Connection) Connect() error {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connected = true
	c.mu.Unlock()
	return nil
}

// LocalIP returns the local address of the connection, for the login
// handshake.
func (c *Connection) LocalIP() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(c.conn.LocalAddr().String())
	if err != nil {
		return ""
	}
	return host
}

// Login runs the two-step authentication handshake synchronously. It must be
// called before Start. A non-success response is returned to the caller for
// display; err is non-nil only for transport failures.
func (c *Connection) Login(username, password, udpPort string) (*protocol.Response, error) {
	resp, err := c.roundTrip(protocol.ReqLoginUsername + " " + username)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != protocol.StatusSuccess {
		return resp, nil
	}

	ip := c.LocalIP()
	return c.roundTrip(fmt.Sprintf("%s %s %s %s", protocol.ReqLoginPassword, password, ip, udpPort))
}

// roundTrip sends one line and reads one response, for use before the reader
// pump is running.
func (c *Connection) roundTrip(line string) (*protocol.Response, error) {
	if err := c.send(line); err != nil {
		return nil, err
	}

	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return nil, ErrNotConnected
	}
	return protocol.ReadResponse(reader)
}

// Start launches the reader pump. Pushed messages (incoming direct and group
// messages) surface on Pushes; command responses are consumed by Request.
func (c *Connection) Start() {
	c.wg.Add(1)
	go c.readLoop()
}

func (c *Connection) readLoop() {
	defer c.wg.Done()

	for {
		resp, err := protocol.ReadResponse(c.reader)
		if err != nil {
			select {
			case <-c.shutdown:
			default:
				c.errs <- err
			}
			return
		}

		switch resp.Command {
		case protocol.CmdIncomingMessage, protocol.CmdIncomingGroupMsg:
			select {
			case c.pushes <- resp:
			default:
				log.Warn("Push buffer full, dropping message")
			}
		default:
			select {
			case c.replies <- resp:
			case <-c.shutdown:
				return
			}
		}
	}
}

// Request sends a command line and waits for its response. Pushes arriving
// in the meantime keep flowing to the Pushes channel.
func (c *Connection) Request(line string) (*protocol.Response, error) {
	if err := c.send(line); err != nil {
		return nil, err
	}

	select {
	case resp := <-c.replies:
		return resp, nil
	case err := <-c.errs:
		return nil, err
	case <-time.After(c.requestTimeout):
		return nil, ErrTimeout
	case <-c.shutdown:
		return nil, ErrNotConnected
	}
}

func (c *Connection) send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// Pushes is the stream of server-initiated messages.
func (c *Connection) Pushes() <-chan *protocol.Response {
	return c.pushes
}

// Errors reports transport failures from the reader pump.
func (c *Connection) Errors() <-chan error {
	return c.errs
}

// Close shuts the connection down and waits for the reader to exit.
func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.shutdown)
	err := conn.Close()
	c.wg.Wait()
	return err
}
