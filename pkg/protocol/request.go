package protocol

import "strings"

// Request keywords as they appear on the wire.
const (
	ReqLoginUsername = "[loginusername]"
	ReqLoginPassword = "[loginpassword]"
	ReqMsgTo         = "/msgto"
	ReqActiveUser    = "/activeuser"
	ReqCreateGroup   = "/creategroup"
	ReqJoinGroup     = "/joingroup"
	ReqGroupMsg      = "/groupmsg"
	ReqLogout        = "/logout"

	// ReqP2PVideo is handled entirely client side; it never reaches the
	// server.
	ReqP2PVideo = "/p2pvideo"
)

// Keyword returns the first whitespace-separated token of a request line, or
// the empty string for a blank line.
func Keyword(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// SplitMessage splits a request of the shape "<cmd> <target> <text...>" into
// its three parts, preserving whitespace inside the trailing text. ok is
// false when the line has fewer than three parts.
func SplitMessage(line string) (target, text string, ok bool) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 3 || parts[1] == "" || strings.TrimSpace(parts[2]) == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// CommandForKeyword maps a request keyword to the command name echoed in the
// response envelope. Unrecognized keywords map to CmdUnknown.
func CommandForKeyword(keyword string) string {
	switch keyword {
	case ReqLoginUsername:
		return CmdLoginUsername
	case ReqLoginPassword:
		return CmdLoginPassword
	case ReqMsgTo:
		return CmdMsgTo
	case ReqActiveUser:
		return CmdActiveUser
	case ReqCreateGroup:
		return CmdCreateGroup
	case ReqJoinGroup:
		return CmdJoinGroup
	case ReqGroupMsg:
		return CmdGroupMsg
	case ReqLogout:
		return CmdLogout
	default:
		return CmdUnknown
	}
}
