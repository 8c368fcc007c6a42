// Package audit provides the append-only log sinks the server records
// presence and message traffic into. The server core only depends on the
// interfaces here; the file-backed implementations produce the userlog and
// messagelog text formats.
package audit

// PresenceRecord is one line of the presence log.
type PresenceRecord struct {
	Seq       int
	Timestamp string
	Username  string
	IP        string
	UDPPort   string
}

// MessageRecord is one line of a message log.
type MessageRecord struct {
	Seq       int
	Timestamp string
	Recipient string
	Body      string
}

// PresenceSink records the active-user roster. Append is called on every
// completed login; Rewrite replaces the whole file with the compacted,
// renumbered roster after a departure.
type PresenceSink interface {
	Append(rec PresenceRecord) error
	Rewrite(recs []PresenceRecord) error
}

// MessageSink records delivered messages in processing order.
type MessageSink interface {
	Append(rec MessageRecord) error
}

// GroupSinks hands out one MessageSink per group chat, created lazily the
// first time a group name is seen.
type GroupSinks interface {
	ForGroup(name string) (MessageSink, error)
}
