package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// MaxLineSize is the maximum length of a single request or response line.
const MaxLineSize = 64 * 1024

// Status codes carried in the response envelope. They mirror HTTP semantics.
const (
	StatusSuccess             = 200
	StatusClientError         = 400
	StatusUnauthorized        = 401
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusConflict            = 409
	StatusInternalServerError = 500
)

// Command names used in the response envelope.
const (
	CmdLoginUsername    = "loginusername"
	CmdLoginPassword    = "loginpassword"
	CmdMsgTo            = "msgto"
	CmdActiveUser       = "activeuser"
	CmdCreateGroup      = "creategroup"
	CmdJoinGroup        = "joingroup"
	CmdGroupMsg         = "groupmsg"
	CmdLogout           = "logout"
	CmdIncomingMessage  = "incomingmessage"
	CmdIncomingGroupMsg = "incominggroupmsg"
	CmdUnknown          = "unknown"
)

var (
	ErrMalformedEnvelope = errors.New("malformed response envelope")
	ErrLineTooLong       = errors.New("protocol line exceeds maximum size")
)

// ResponseData carries the structured payload of a response. Only the
// activeuser response populates it; every other response serializes as an
// empty object.
type ResponseData struct {
	ClientIPs map[string]string `json:"client_ips,omitempty"`
	UDPPorts  map[string]string `json:"udp_ports,omitempty"`
}

// Response is the single envelope used for every server-to-client message,
// including pushed notifications.
type Response struct {
	Command       string       `json:"command"`
	StatusCode    int          `json:"statusCode"`
	ClientMessage string       `json:"clientMessage"`
	Data          ResponseData `json:"data"`
}

// NewResponse builds an envelope with an empty data object.
func NewResponse(command string, statusCode int, clientMessage string) *Response {
	return &Response{
		Command:       command,
		StatusCode:    statusCode,
		ClientMessage: clientMessage,
	}
}

// Encode serializes the envelope as a single newline-terminated JSON line.
func (r *Response) Encode() ([]byte, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if len(buf)+1 > MaxLineSize {
		return nil, ErrLineTooLong
	}
	return append(buf, '\n'), nil
}

// WriteResponse encodes the envelope and writes it to w.
func WriteResponse(w io.Writer, r *Response) error {
	buf, err := r.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// DecodeResponse parses one envelope line. A line that is not valid JSON, or
// that lacks the command or statusCode fields, is a protocol violation and
// yields ErrMalformedEnvelope.
func DecodeResponse(line []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return nil, ErrMalformedEnvelope
	}
	if resp.Command == "" || resp.StatusCode == 0 {
		return nil, ErrMalformedEnvelope
	}
	return &resp, nil
}

// ReadResponse reads the next newline-delimited envelope from r.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return DecodeResponse(line)
		}
		return nil, err
	}
	if len(line) > MaxLineSize {
		return nil, ErrLineTooLong
	}
	return DecodeResponse(line)
}
