package transfer

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"
)

// DefaultInterPacketDelay spaces out data datagrams so back-to-back sends are
// less likely to overflow the receiver's socket buffer. UDP gives us nothing
// else against loss.
const DefaultInterPacketDelay = time.Millisecond

// Sender streams files to peers over an existing UDP socket, normally the
// same socket the local Receiver listens on.
type Sender struct {
	conn  *net.UDPConn
	delay time.Duration
}

// NewSender returns a Sender using conn with the default inter-packet delay.
func NewSender(conn *net.UDPConn) *Sender {
	return &Sender{conn: conn, delay: DefaultInterPacketDelay}
}

// SetDelay overrides the inter-packet delay. A zero delay disables pacing.
func (s *Sender) SetDelay(d time.Duration) {
	s.delay = d
}

// SendFile transfers the file at path to dest, announcing it under the
// sender's username. Returns the number of payload bytes sent.
func (s *Sender) SendFile(path, sender string, dest *net.UDPAddr) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	filename := filepath.Base(path)
	if _, err := s.conn.WriteToUDP(encodeControl(filename, sender), dest); err != nil {
		return 0, fmt.Errorf("send control datagram: %w", err)
	}

	var sent int64
	buf := make([]byte, ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if s.delay > 0 {
				time.Sleep(s.delay)
			}
			if _, werr := s.conn.WriteToUDP(buf[:n], dest); werr != nil {
				return sent, fmt.Errorf("send chunk: %w", werr)
			}
			sent += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return sent, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if _, err := s.conn.WriteToUDP(markerBytes, dest); err != nil {
		return sent, fmt.Errorf("send EOF marker: %w", err)
	}
	return sent, nil
}
