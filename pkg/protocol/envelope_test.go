package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want map[string]interface{}
	}{
		{
			name: "plain success",
			resp: NewResponse(CmdLoginUsername, StatusSuccess, ""),
			want: map[string]interface{}{
				"command":       "loginusername",
				"statusCode":    float64(200),
				"clientMessage": "",
				"data":          map[string]interface{}{},
			},
		},
		{
			name: "error with message",
			resp: NewResponse(CmdMsgTo, StatusNotFound, "Error: Recipient Not Found!"),
			want: map[string]interface{}{
				"command":       "msgto",
				"statusCode":    float64(404),
				"clientMessage": "Error: Recipient Not Found!",
				"data":          map[string]interface{}{},
			},
		},
		{
			name: "activeuser with presence data",
			resp: &Response{
				Command:       CmdActiveUser,
				StatusCode:    StatusSuccess,
				ClientMessage: "bob, active since 03 Nov 2023 14:22:05.",
				Data: ResponseData{
					ClientIPs: map[string]string{"bob": "10.0.0.2"},
					UDPPorts:  map[string]string{"bob": "8801"},
				},
			},
			want: map[string]interface{}{
				"command":       "activeuser",
				"statusCode":    float64(200),
				"clientMessage": "bob, active since 03 Nov 2023 14:22:05.",
				"data": map[string]interface{}{
					"client_ips": map[string]interface{}{"bob": "10.0.0.2"},
					"udp_ports":  map[string]interface{}{"bob": "8801"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.resp.Encode()
			require.NoError(t, err)
			require.True(t, bytes.HasSuffix(buf, []byte("\n")), "encoded envelope must be newline-terminated")

			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(buf, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{
			name: "valid envelope",
			line: `{"command":"logout","statusCode":200,"clientMessage":"Logout successful. Goodbye!","data":{}}`,
		},
		{
			name:    "not JSON",
			line:    "account blocked",
			wantErr: ErrMalformedEnvelope,
		},
		{
			name:    "missing command",
			line:    `{"statusCode":200,"clientMessage":"","data":{}}`,
			wantErr: ErrMalformedEnvelope,
		},
		{
			name:    "missing status code",
			line:    `{"command":"logout","clientMessage":"","data":{}}`,
			wantErr: ErrMalformedEnvelope,
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: ErrMalformedEnvelope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.line))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, CmdLogout, resp.Command)
			assert.Equal(t, StatusSuccess, resp.StatusCode)
		})
	}
}

func TestReadResponseStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, NewResponse(CmdLoginUsername, StatusSuccess, "")))
	require.NoError(t, WriteResponse(&buf, NewResponse(CmdIncomingMessage, StatusSuccess, "hi")))

	r := bufio.NewReader(&buf)

	first, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, CmdLoginUsername, first.Command)

	second, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, CmdIncomingMessage, second.Command)
	assert.Equal(t, "hi", second.ClientMessage)
}

func TestReadResponseWithoutTrailingNewline(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(`{"command":"msgto","statusCode":200,"clientMessage":"message sent","data":{}}`))

	resp, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, CmdMsgTo, resp.Command)
}

func TestKeyword(t *testing.T) {
	assert.Equal(t, "/msgto", Keyword("/msgto bob hello there"))
	assert.Equal(t, "[loginusername]", Keyword("  [loginusername] alice"))
	assert.Equal(t, "", Keyword("   "))
	assert.Equal(t, "", Keyword(""))
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantTarget string
		wantText   string
		wantOK     bool
	}{
		{"normal", "/msgto bob hello there", "bob", "hello there", true},
		{"preserves inner spaces", "/groupmsg team a  b   c", "team", "a  b   c", true},
		{"missing text", "/msgto bob", "", "", false},
		{"missing everything", "/msgto", "", "", false},
		{"whitespace text", "/msgto bob    ", "", "", false},
		{"strips trailing newline", "/msgto bob hi\n", "bob", "hi", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, text, ok := SplitMessage(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTarget, target)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestCommandForKeyword(t *testing.T) {
	assert.Equal(t, CmdMsgTo, CommandForKeyword(ReqMsgTo))
	assert.Equal(t, CmdLoginPassword, CommandForKeyword(ReqLoginPassword))
	assert.Equal(t, CmdUnknown, CommandForKeyword("/selfdestruct"))
}
