package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/audit"
	"github.com/JYehhh/tessenger/pkg/protocol"
)

// dispatchCommand routes an authenticated request by its command keyword.
func (s *Server) dispatchCommand(sess *Session, keyword, line string) *protocol.Response {
	switch keyword {
	case protocol.ReqMsgTo:
		return s.handleMsgTo(sess, line)
	case protocol.ReqActiveUser:
		return s.handleActiveUser(sess)
	case protocol.ReqCreateGroup:
		return s.handleCreateGroup(sess, line)
	case protocol.ReqJoinGroup:
		return s.handleJoinGroup(sess, line)
	case protocol.ReqGroupMsg:
		return s.handleGroupMsg(sess, line)
	case protocol.ReqLogout:
		return s.handleLogout(sess)
	default:
		return protocol.NewResponse(protocol.CmdUnknown, protocol.StatusNotFound, "Error: Invalid command!")
	}
}

// handleMsgTo delivers a direct message: "/msgto <user> <text...>".
func (s *Server) handleMsgTo(sess *Session, line string) *protocol.Response {
	target, text, ok := protocol.SplitMessage(line)
	if !ok {
		return protocol.NewResponse(protocol.CmdMsgTo, protocol.StatusClientError,
			"Error: Invalid command format. Usage: /msgto USERNAME MESSAGE_CONTENT")
	}

	recipient, active := s.directory.Lookup(target)
	if !active {
		return protocol.NewResponse(protocol.CmdMsgTo, protocol.StatusNotFound,
			"Error: Recipient Not Found!")
	}

	now := time.Now()
	timestamp := protocol.FormatTimestamp(now)

	// Fire-and-forget: a failed recipient write is logged, never retried.
	// Closing the dead socket lets the recipient's own goroutine tear the
	// session down.
	push := protocol.NewResponse(protocol.CmdIncomingMessage, protocol.StatusSuccess,
		fmt.Sprintf("%s, %s: %s", timestamp, sess.username, text))
	if err := recipient.Conn.WriteResponse(push); err != nil {
		log.Warnf("Failed to deliver message from %s to %s: %v", sess.username, target, err)
		s.metrics.RecordDeliveryFailure("direct")
		recipient.Conn.Close()
	} else {
		s.metrics.RecordDelivery("direct")
	}

	s.recordDirectMessage(sess.username, target, text, timestamp, now)

	return protocol.NewResponse(protocol.CmdMsgTo, protocol.StatusSuccess,
		fmt.Sprintf("message sent at %s.", timestamp))
}

// recordDirectMessage appends the message to the audit log and the archive.
func (s *Server) recordDirectMessage(sender, recipient, text, timestamp string, now time.Time) {
	if s.msgLog != nil {
		seq := int(s.msgSeq.Add(1))
		if err := s.msgLog.Append(audit.MessageRecord{
			Seq:       seq,
			Timestamp: timestamp,
			Recipient: recipient,
			Body:      text,
		}); err != nil {
			log.Errorf("Failed to append message log: %v", err)
		}
	}
	if s.archive != nil {
		if err := s.archive.RecordDirect(sender, recipient, text, now); err != nil {
			log.Errorf("Failed to archive direct message: %v", err)
		}
	}
}

// handleActiveUser lists every other active user plus the structured address
// maps the peer transfer coordinator needs.
func (s *Server) handleActiveUser(sess *Session) *protocol.Response {
	entries := s.directory.ListActive(sess.username)
	if len(entries) == 0 {
		return protocol.NewResponse(protocol.CmdActiveUser, protocol.StatusSuccess,
			"no other active user")
	}

	lines := make([]string, 0, len(entries))
	for _, p := range entries {
		lines = append(lines, fmt.Sprintf("%s, active since %s. Client IP is %s with UDP receiving port: %s",
			p.Username, protocol.FormatTimestamp(p.LoginTime), p.IP, p.UDPPort))
	}

	resp := protocol.NewResponse(protocol.CmdActiveUser, protocol.StatusSuccess, strings.Join(lines, "\n"))
	resp.Data = s.directory.AddressData(sess.username)
	return resp
}

// handleCreateGroup creates a group chat: "/creategroup <name> <user...>".
func (s *Server) handleCreateGroup(sess *Session, line string) *protocol.Response {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return protocol.NewResponse(protocol.CmdCreateGroup, protocol.StatusClientError,
			"Error: Not enough arguments for /creategroup.")
	}
	name, invitees := fields[1], fields[2:]

	for _, invitee := range invitees {
		if !s.directory.IsActive(invitee) {
			return protocol.NewResponse(protocol.CmdCreateGroup, protocol.StatusNotFound,
				fmt.Sprintf("Error: %s is offline, or an invalid username.", invitee))
		}
	}

	_, err := s.groups.Create(name, sess.username, invitees)
	switch {
	case errors.Is(err, ErrGroupExists):
		return protocol.NewResponse(protocol.CmdCreateGroup, protocol.StatusConflict,
			fmt.Sprintf("Error: a group chat (Name: %s) already exist.", name))
	case errors.Is(err, ErrBadGroupName):
		return protocol.NewResponse(protocol.CmdCreateGroup, protocol.StatusClientError,
			"Error: Group name is invalid. Use only letters and digits.")
	case err != nil:
		log.Errorf("Failed to create group %s: %v", name, err)
		return protocol.NewResponse(protocol.CmdCreateGroup, protocol.StatusInternalServerError,
			"Server Error: failed to create group chat")
	}

	s.metrics.RecordGroupCreated()
	members := append([]string{sess.username}, invitees...)
	return protocol.NewResponse(protocol.CmdCreateGroup, protocol.StatusSuccess,
		fmt.Sprintf("Group chat room has been created, room name: %s, users in this room: %s",
			name, strings.Join(members, " ")))
}

// handleJoinGroup accepts a pending invite: "/joingroup <name>".
func (s *Server) handleJoinGroup(sess *Session, line string) *protocol.Response {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return protocol.NewResponse(protocol.CmdJoinGroup, protocol.StatusClientError,
			"Error: Invalid command format. Usage: /joingroup groupname")
	}
	name := fields[1]

	group, ok := s.groups.Get(name)
	if !ok {
		return protocol.NewResponse(protocol.CmdJoinGroup, protocol.StatusNotFound,
			"Error: Group chat does not exist.")
	}

	switch err := group.Join(sess.username); {
	case errors.Is(err, ErrNotInvited):
		return protocol.NewResponse(protocol.CmdJoinGroup, protocol.StatusUnauthorized,
			"Error: You are not invited to this group chat.")
	case errors.Is(err, ErrAlreadyJoined):
		return protocol.NewResponse(protocol.CmdJoinGroup, protocol.StatusConflict,
			"Error: You are already in this group chat.")
	}

	return protocol.NewResponse(protocol.CmdJoinGroup, protocol.StatusSuccess,
		fmt.Sprintf("You have successfully joined the group chat '%s'.", name))
}

// handleGroupMsg fans a message out to the group: "/groupmsg <name> <text...>".
func (s *Server) handleGroupMsg(sess *Session, line string) *protocol.Response {
	name, text, ok := protocol.SplitMessage(line)
	if !ok {
		return protocol.NewResponse(protocol.CmdGroupMsg, protocol.StatusClientError,
			"Error: Invalid command format. Usage: /groupmsg groupname message")
	}

	group, found := s.groups.Get(name)
	if !found {
		return protocol.NewResponse(protocol.CmdGroupMsg, protocol.StatusNotFound,
			fmt.Sprintf("Error: The group chat %s does not exist.", name))
	}

	switch err := group.CheckSender(sess.username); {
	case errors.Is(err, ErrNotInvited):
		return protocol.NewResponse(protocol.CmdGroupMsg, protocol.StatusUnauthorized,
			"Error: You are not in this group chat.")
	case errors.Is(err, ErrNotJoined):
		return protocol.NewResponse(protocol.CmdGroupMsg, protocol.StatusUnauthorized,
			"Error: Please join the group before sending messages.")
	}

	now := time.Now()
	timestamp := protocol.FormatTimestamp(now)
	push := protocol.NewResponse(protocol.CmdIncomingGroupMsg, protocol.StatusSuccess,
		fmt.Sprintf("%s, %s, %s: %s", timestamp, name, sess.username, text))

	// Fanout to every joined, active member except the sender. The SafeConn
	// write deadline bounds how long a slow recipient can hold us up; on a
	// timeout the message is dropped for that recipient and logged.
	recipients := 0
	for _, member := range group.JoinedMembers() {
		if member == sess.username {
			continue
		}
		target, active := s.directory.Lookup(member)
		if !active {
			continue
		}
		if err := target.Conn.WriteResponse(push); err != nil {
			log.Warnf("Failed to deliver group %s message to %s: %v", name, member, err)
			s.metrics.RecordDeliveryFailure("group")
			target.Conn.Close()
			continue
		}
		s.metrics.RecordDelivery("group")
		recipients++
	}
	s.metrics.RecordGroupFanout(recipients)

	group.LogMessage(timestamp, sess.username, text)
	if s.archive != nil {
		if err := s.archive.RecordGroup(sess.username, name, text, now); err != nil {
			log.Errorf("Failed to archive group message: %v", err)
		}
	}

	return protocol.NewResponse(protocol.CmdGroupMsg, protocol.StatusSuccess,
		"Group chat message sent.")
}

// handleLogout tears the session down and says goodbye.
func (s *Server) handleLogout(sess *Session) *protocol.Response {
	s.directory.Unregister(sess.username, sess)
	s.metrics.RecordActiveUsers(s.directory.Count())
	log.Infof("User %s logged out (session %d)", sess.username, sess.ID)
	sess.state = stateTerminated
	return protocol.NewResponse(protocol.CmdLogout, protocol.StatusSuccess,
		"Logout successful. Goodbye!")
}
