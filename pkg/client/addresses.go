package client

import (
	"errors"
	"sync"

	"github.com/JYehhh/tessenger/pkg/protocol"
)

// ErrPeerUnknown is returned when a peer's address has not been seen in any
// activeuser response yet.
var ErrPeerUnknown = errors.New("peer address unknown, run /activeuser first")

// PeerAddress is one peer's published UDP endpoint.
type PeerAddress struct {
	IP      string
	UDPPort string
}

// AddressBook caches peer addresses out of activeuser responses so the file
// transfer command can resolve a username to an endpoint.
type AddressBook struct {
	mu    sync.Mutex
	peers map[string]PeerAddress
}

// NewAddressBook returns an empty address book.
func NewAddressBook() *AddressBook {
	return &AddressBook{peers: make(map[string]PeerAddress)}
}

// Update replaces the cached addresses with the data of a fresh activeuser
// response. An empty payload clears the book.
func (b *AddressBook) Update(data protocol.ResponseData) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.peers = make(map[string]PeerAddress, len(data.ClientIPs))
	for username, ip := range data.ClientIPs {
		b.peers[username] = PeerAddress{IP: ip, UDPPort: data.UDPPorts[username]}
	}
}

// Resolve returns the cached endpoint for username.
func (b *AddressBook) Resolve(username string) (PeerAddress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	addr, ok := b.peers[username]
	if !ok || addr.IP == "" || addr.UDPPort == "" {
		return PeerAddress{}, ErrPeerUnknown
	}
	return addr, nil
}
