// Package transfer implements the peer-to-peer UDP file transfer Tessenger
// clients use for video clips. The server is not involved: the initiator
// resolves the recipient's address from presence data and streams the file
// directly to the recipient's UDP socket.
//
// The wire dialect is deliberately simple and unreliable (no acks, no
// retransmission, no ordering): a control datagram announcing the transfer,
// a run of fixed-size payload chunks, and a terminal datagram ending in the
// EOF marker.
package transfer

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	// ChunkSize is the fixed payload size of a data datagram.
	ChunkSize = 1024

	// ControlPrefix starts the control datagram announcing a transfer.
	ControlPrefix = "initiate_transfer"

	// Marker terminates a transfer. It may arrive standalone or appended
	// to the final chunk.
	Marker = "EOF"
)

var markerBytes = []byte(Marker)

// control holds the parsed fields of a control datagram:
//
//	initiate_transfer <filename> <sender_username>
type control struct {
	Filename string
	Sender   string
}

// encodeControl renders a control datagram payload.
func encodeControl(filename, sender string) []byte {
	return []byte(fmt.Sprintf("%s %s %s", ControlPrefix, filename, sender))
}

// parseControl parses a control datagram, reporting ok=false when the payload
// is not a well-formed announcement.
func parseControl(payload []byte) (control, bool) {
	parts := strings.Fields(string(payload))
	if len(parts) != 3 || parts[0] != ControlPrefix {
		return control{}, false
	}
	return control{Filename: parts[1], Sender: parts[2]}, true
}

// splitMarker strips a trailing EOF marker from a datagram payload. done is
// true when the marker was present, meaning data (possibly empty) is the
// final chunk of the stream.
func splitMarker(payload []byte) (data []byte, done bool) {
	if bytes.HasSuffix(payload, markerBytes) {
		return payload[:len(payload)-len(markerBytes)], true
	}
	return payload, false
}
