// Package protocol defines the keyspace wire protocol: opcodes, statuses,
// the binary frame codec and a client.
//
// Every frame starts with an 8-byte header:
//
//	[magic 'K'][code u8][argc u16 BE][body length u32 BE]
//
// followed by argc arguments, each a u32 BE length and that many bytes.
// In requests the code is an Op; in responses it is a Status. A response
// carries at most one argument, its payload.
package protocol

import "fmt"

// Magic is the first byte of every frame.
const Magic = 'K'

// HeaderSize is the fixed frame header length.
const HeaderSize = 8

// MaxBodySize bounds the body of a single frame.
const MaxBodySize = 16 << 20

// Op is a request opcode.
type Op uint8

const (
	OpAuth Op = iota + 1
	OpSelect
	OpSetEx
	OpGet
	OpDel
	OpExists
	OpPing
	OpCall
)

func (o Op) String() string {
	switch o {
	case OpAuth:
		return "AUTH"
	case OpSelect:
		return "SELECT"
	case OpSetEx:
		return "SETEX"
	case OpGet:
		return "GET"
	case OpDel:
		return "DEL"
	case OpExists:
		return "EXISTS"
	case OpPing:
		return "PING"
	case OpCall:
		return "CALL"
	}
	return fmt.Sprintf("OP(%d)", uint8(o))
}

// Status is a response code.
type Status uint8

const (
	StatusOK                Status = 0x00
	StatusNil               Status = 0x01
	StatusAuthFailed        Status = 0x10
	StatusAuthRequired      Status = 0x11
	StatusNamespaceRequired Status = 0x12
	StatusBadRequest        Status = 0x20
	StatusRateLimited       Status = 0x21
	StatusServerError       Status = 0x30
	StatusExtensionError    Status = 0x31
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNil:
		return "nil"
	case StatusAuthFailed:
		return "auth_failed"
	case StatusAuthRequired:
		return "auth_required"
	case StatusNamespaceRequired:
		return "namespace_required"
	case StatusBadRequest:
		return "bad_request"
	case StatusRateLimited:
		return "rate_limited"
	case StatusServerError:
		return "server_error"
	case StatusExtensionError:
		return "extension_error"
	}
	return fmt.Sprintf("status_%d", uint8(s))
}

// Request is a decoded request frame.
type Request struct {
	Op   Op
	Args [][]byte
}

// NewRequest builds a request from string arguments.
func NewRequest(op Op, args ...string) *Request {
	req := &Request{Op: op, Args: make([][]byte, len(args))}
	for i, a := range args {
		req.Args[i] = []byte(a)
	}
	return req
}

// Arg returns argument i as a string, or "" when absent.
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return string(r.Args[i])
}

// Response is a decoded response frame.
type Response struct {
	Status  Status
	Payload []byte
}

// OK builds a successful response carrying payload.
func OK(payload []byte) *Response {
	return &Response{Status: StatusOK, Payload: payload}
}

// Fail builds a response with status and a human-readable message.
func Fail(status Status, format string, args ...any) *Response {
	return &Response{Status: status, Payload: []byte(fmt.Sprintf(format, args...))}
}
