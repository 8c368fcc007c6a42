package transfer

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event reports a completed inbound transfer.
type Event struct {
	Sender   string
	Filename string // output filename, <sender>_<original name>
	Size     int64
}

// inbound is one in-progress transfer, keyed by the sender's UDP address so
// concurrent transfers from distinct peers do not interleave.
type inbound struct {
	sender   string
	filename string
	file     *os.File
	size     int64
}

// Receiver drains a UDP socket for incoming peer transfers and assembles the
// received files under dir.
type Receiver struct {
	conn   *net.UDPConn
	dir    string
	notify func(Event)

	mu        sync.Mutex
	transfers map[string]*inbound

	done chan struct{}
	wg   sync.WaitGroup
}

// NewReceiver returns a Receiver writing completed files into dir. notify,
// if non-nil, is invoked after each completed transfer; it runs on the
// receive goroutine and must not block.
func NewReceiver(conn *net.UDPConn, dir string, notify func(Event)) *Receiver {
	return &Receiver{
		conn:      conn,
		dir:       dir,
		notify:    notify,
		transfers: make(map[string]*inbound),
		done:      make(chan struct{}),
	}
}

// Start launches the receive loop.
func (r *Receiver) Start() {
	r.wg.Add(1)
	go r.receiveLoop()
}

// Close stops the receive loop within one poll interval and abandons any
// incomplete transfers.
func (r *Receiver) Close() error {
	close(r.done)
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, in := range r.transfers {
		log.Warnf("Abandoning incomplete transfer of %s from %s", in.filename, addr)
		in.file.Close()
		delete(r.transfers, addr)
	}
	return nil
}

func (r *Receiver) receiveLoop() {
	defer r.wg.Done()

	buf := make([]byte, ChunkSize+len(Marker))
	for {
		select {
		case <-r.done:
			return
		default:
		}

		// Bounded read so the shutdown flag is checked each iteration.
		r.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			select {
			case <-r.done:
				return
			default:
				log.Errorf("UDP receive error: %v", err)
				return
			}
		}

		if err := r.handleDatagram(addr.String(), buf[:n]); err != nil {
			log.Errorf("Transfer error from %s: %v", addr, err)
		}
	}
}

// handleDatagram feeds one datagram into the per-sender transfer state.
func (r *Receiver) handleDatagram(addr string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, active := r.transfers[addr]
	if !active {
		ctrl, ok := parseControl(payload)
		if !ok {
			// Stray datagram with no announced transfer; drop it.
			return nil
		}
		return r.beginTransfer(addr, ctrl)
	}

	data, finished := splitMarker(payload)
	if len(data) > 0 {
		n, err := in.file.Write(data)
		in.size += int64(n)
		if err != nil {
			in.file.Close()
			delete(r.transfers, addr)
			return fmt.Errorf("write %s: %w", in.filename, err)
		}
	}

	if finished {
		delete(r.transfers, addr)
		if err := in.file.Close(); err != nil {
			return fmt.Errorf("close %s: %w", in.filename, err)
		}
		log.Infof("Received %s from %s (%d bytes)", in.filename, in.sender, in.size)
		if r.notify != nil {
			r.notify(Event{Sender: in.sender, Filename: in.filename, Size: in.size})
		}
	}
	return nil
}

func (r *Receiver) beginTransfer(addr string, ctrl control) error {
	outName := fmt.Sprintf("%s_%s", ctrl.Sender, filepath.Base(ctrl.Filename))
	f, err := os.Create(filepath.Join(r.dir, outName))
	if err != nil {
		return fmt.Errorf("create %s: %w", outName, err)
	}

	r.transfers[addr] = &inbound{
		sender:   ctrl.Sender,
		filename: outName,
		file:     f,
	}
	log.Infof("Incoming transfer of %s from %s", ctrl.Filename, ctrl.Sender)
	return nil
}
