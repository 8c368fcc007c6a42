package server

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/audit"
	"github.com/JYehhh/tessenger/pkg/protocol"
)

// Presence is a user's published presence entry.
type Presence struct {
	Seq       int
	Username  string
	LoginTime time.Time
	IP        string
	UDPPort   string
}

// Directory is the shared registry of authenticated users: username to
// session binding plus published presence. It is the single serialization
// point for presence state; every session goroutine goes through its lock.
type Directory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	presence map[string]*Presence
	order    []string // usernames in login order; presence Seq is index+1
	sink     audit.PresenceSink
	now      func() time.Time
}

// NewDirectory returns an empty registry mirroring mutations into sink. A
// nil sink disables the presence log.
func NewDirectory(sink audit.PresenceSink) *Directory {
	return &Directory{
		sessions: make(map[string]*Session),
		presence: make(map[string]*Presence),
		sink:     sink,
		now:      time.Now,
	}
}

// Register binds an authenticated session and publishes its presence,
// returning the assigned sequence number. A live session already bound to
// the username is displaced (last login wins); the displaced session
// reference is returned so the caller can close it outside the lock.
func (d *Directory) Register(username string, sess *Session, ip, udpPort string) (seq int, displaced *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.sessions[username]; ok {
		displaced = old
		d.removeLocked(username)
	}

	entry := &Presence{
		Seq:       len(d.order) + 1,
		Username:  username,
		LoginTime: d.now(),
		IP:        ip,
		UDPPort:   udpPort,
	}
	d.sessions[username] = sess
	d.presence[username] = entry
	d.order = append(d.order, username)

	if d.sink != nil {
		if err := d.sink.Append(audit.PresenceRecord{
			Seq:       entry.Seq,
			Timestamp: protocol.FormatTimestamp(entry.LoginTime),
			Username:  username,
			IP:        ip,
			UDPPort:   udpPort,
		}); err != nil {
			log.Errorf("Failed to append presence log: %v", err)
		}
	}

	return entry.Seq, displaced
}

// Unregister removes the user's entry and renumbers the remaining presences
// to a dense 1..N in login order. The removal is skipped when the bound
// session is not sess (the entry belongs to a newer login).
func (d *Directory) Unregister(username string, sess *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if bound, ok := d.sessions[username]; !ok || bound != sess {
		return
	}
	d.removeLocked(username)

	if d.sink != nil {
		recs := make([]audit.PresenceRecord, 0, len(d.order))
		for _, name := range d.order {
			p := d.presence[name]
			recs = append(recs, audit.PresenceRecord{
				Seq:       p.Seq,
				Timestamp: protocol.FormatTimestamp(p.LoginTime),
				Username:  p.Username,
				IP:        p.IP,
				UDPPort:   p.UDPPort,
			})
		}
		if err := d.sink.Rewrite(recs); err != nil {
			log.Errorf("Failed to rewrite presence log: %v", err)
		}
	}
}

// removeLocked drops username and compacts the remaining sequence numbers.
func (d *Directory) removeLocked(username string) {
	delete(d.sessions, username)
	delete(d.presence, username)

	order := d.order[:0]
	for _, name := range d.order {
		if name != username {
			order = append(order, name)
		}
	}
	d.order = order
	for i, name := range d.order {
		d.presence[name].Seq = i + 1
	}
}

// Lookup returns the session bound to username, if the user is active.
func (d *Directory) Lookup(username string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, ok := d.sessions[username]
	return sess, ok
}

// IsActive reports whether the username has a live login.
func (d *Directory) IsActive(username string) bool {
	_, ok := d.Lookup(username)
	return ok
}

// Count returns the number of active users.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.order)
}

// ListActive returns the presence entries of every user except excluding, in
// login order. The returned slice is a snapshot; callers must not cache it
// across mutating calls.
func (d *Directory) ListActive(excluding string) []Presence {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]Presence, 0, len(d.order))
	for _, name := range d.order {
		if name == excluding {
			continue
		}
		entries = append(entries, *d.presence[name])
	}
	return entries
}

// AddressData returns the structured address maps consumed by the peer
// transfer coordinator, excluding the caller.
func (d *Directory) AddressData(excluding string) protocol.ResponseData {
	entries := d.ListActive(excluding)
	if len(entries) == 0 {
		return protocol.ResponseData{}
	}

	data := protocol.ResponseData{
		ClientIPs: make(map[string]string, len(entries)),
		UDPPorts:  make(map[string]string, len(entries)),
	}
	for _, p := range entries {
		data.ClientIPs[p.Username] = p.IP
		data.UDPPorts[p.Username] = p.UDPPort
	}
	return data
}
