package server

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/audit"
)

var (
	// ErrGroupNotFound indicates the group chat does not exist.
	ErrGroupNotFound = errors.New("group chat does not exist")
	// ErrGroupExists indicates the group name is already in use.
	ErrGroupExists = errors.New("group chat already exists")
	// ErrBadGroupName indicates the name contains non-alphanumeric characters.
	ErrBadGroupName = errors.New("group name must be alphanumeric")
	// ErrNotInvited indicates the user was never invited to the group.
	ErrNotInvited = errors.New("user not invited to group chat")
	// ErrAlreadyJoined indicates the user already accepted the invite.
	ErrAlreadyJoined = errors.New("user already joined group chat")
	// ErrNotJoined indicates the user is invited but has not joined yet.
	ErrNotJoined = errors.New("user has not joined group chat")
)

// Group is one group chat: an owner, the invited members with their join
// state, and a per-group message sequence starting at 1.
type Group struct {
	Name  string
	Owner string

	mu      sync.Mutex
	joined  map[string]bool // invited members; true once joined
	nextSeq int
	sink    audit.MessageSink
}

// GroupRegistry is the concurrency-safe registry of group chats. Groups live
// for the remainder of the process; there is no deletion path.
type GroupRegistry struct {
	mu     sync.Mutex
	groups map[string]*Group
	sinks  audit.GroupSinks
}

// NewGroupRegistry returns an empty registry creating per-group logs through
// sinks. A nil sinks disables group message logging.
func NewGroupRegistry(sinks audit.GroupSinks) *GroupRegistry {
	return &GroupRegistry{groups: make(map[string]*Group), sinks: sinks}
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Create registers a new group with the owner joined and every invitee
// pending. Name conflicts are checked before name validity.
func (r *GroupRegistry) Create(name, owner string, invitees []string) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.groups[name]; exists {
		return nil, ErrGroupExists
	}
	if !isAlphanumeric(name) {
		return nil, ErrBadGroupName
	}

	joined := make(map[string]bool, len(invitees)+1)
	joined[owner] = true
	for _, user := range invitees {
		if user == owner {
			continue
		}
		joined[user] = false
	}

	group := &Group{
		Name:    name,
		Owner:   owner,
		joined:  joined,
		nextSeq: 1,
	}
	if r.sinks != nil {
		sink, err := r.sinks.ForGroup(name)
		if err != nil {
			return nil, err
		}
		group.sink = sink
	}

	r.groups[name] = group
	return group, nil
}

// Get returns the named group, if it exists.
func (r *GroupRegistry) Get(name string) (*Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[name]
	return group, ok
}

// Join marks the user as joined. Fails with ErrNotInvited or
// ErrAlreadyJoined as appropriate.
func (g *Group) Join(username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	joined, invited := g.joined[username]
	if !invited {
		return ErrNotInvited
	}
	if joined {
		return ErrAlreadyJoined
	}
	g.joined[username] = true
	return nil
}

// CheckSender validates that username may post to the group: invited and
// joined.
func (g *Group) CheckSender(username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	joined, invited := g.joined[username]
	if !invited {
		return ErrNotInvited
	}
	if !joined {
		return ErrNotJoined
	}
	return nil
}

// JoinedMembers returns the members who have accepted their invite.
func (g *Group) JoinedMembers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	members := make([]string, 0, len(g.joined))
	for username, joined := range g.joined {
		if joined {
			members = append(members, username)
		}
	}
	return members
}

// IsInvited reports whether the user appears in the member list at all.
func (g *Group) IsInvited(username string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, invited := g.joined[username]
	return invited
}

// HasJoined reports whether the user accepted their invite.
func (g *Group) HasJoined(username string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.joined[username]
}

// LogMessage assigns the group's next sequence number to the message and
// appends it to the group log.
func (g *Group) LogMessage(timestamp, sender, body string) int {
	g.mu.Lock()
	seq := g.nextSeq
	g.nextSeq++
	sink := g.sink
	g.mu.Unlock()

	if sink != nil {
		if err := sink.Append(audit.MessageRecord{
			Seq:       seq,
			Timestamp: timestamp,
			Recipient: sender,
			Body:      body,
		}); err != nil {
			log.Errorf("Failed to append group %s log: %v", g.Name, err)
		}
	}
	return seq
}
