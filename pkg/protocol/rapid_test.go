package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

// TestEnvelopeRoundTrip tests that any envelope survives encode/decode.
func TestEnvelopeRoundTrip(t *testing.T) {
	commands := []string{
		CmdLoginUsername, CmdLoginPassword, CmdMsgTo, CmdActiveUser,
		CmdCreateGroup, CmdJoinGroup, CmdGroupMsg, CmdLogout,
		CmdIncomingMessage, CmdIncomingGroupMsg, CmdUnknown,
	}
	statuses := []int{
		StatusSuccess, StatusClientError, StatusUnauthorized,
		StatusForbidden, StatusNotFound, StatusConflict,
		StatusInternalServerError,
	}

	rapid.Check(t, func(t *rapid.T) {
		original := &Response{
			Command:       rapid.SampledFrom(commands).Draw(t, "command"),
			StatusCode:    rapid.SampledFrom(statuses).Draw(t, "status"),
			ClientMessage: rapid.StringN(0, 512, -1).Draw(t, "message"),
		}
		if rapid.Bool().Draw(t, "withData") {
			user := rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "user")
			original.Data.ClientIPs = map[string]string{user: "127.0.0.1"}
			original.Data.UDPPorts = map[string]string{user: "9000"}
		}

		buf, err := original.Encode()
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeResponse(buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Command != original.Command {
			t.Fatalf("command mismatch: got %q, want %q", decoded.Command, original.Command)
		}
		if decoded.StatusCode != original.StatusCode {
			t.Fatalf("status mismatch: got %d, want %d", decoded.StatusCode, original.StatusCode)
		}
		if decoded.ClientMessage != original.ClientMessage {
			t.Fatalf("message mismatch")
		}
		if len(decoded.Data.ClientIPs) != len(original.Data.ClientIPs) {
			t.Fatalf("data mismatch")
		}
	})
}
