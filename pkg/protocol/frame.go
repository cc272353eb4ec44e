package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteRequest encodes req onto w.
func WriteRequest(w io.Writer, req *Request) error {
	return writeFrame(w, uint8(req.Op), req.Args)
}

// ReadRequest decodes one request frame from r.
func ReadRequest(r io.Reader) (*Request, error) {
	code, args, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return &Request{Op: Op(code), Args: args}, nil
}

// WriteResponse encodes resp onto w.
func WriteResponse(w io.Writer, resp *Response) error {
	var args [][]byte
	if resp.Payload != nil {
		args = [][]byte{resp.Payload}
	}
	return writeFrame(w, uint8(resp.Status), args)
}

// ReadResponse decodes one response frame from r.
func ReadResponse(r io.Reader) (*Response, error) {
	code, args, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	if len(args) > 1 {
		return nil, fmt.Errorf("%w: response with %d arguments", ErrMalformedFrame, len(args))
	}
	resp := &Response{Status: Status(code)}
	if len(args) == 1 {
		resp.Payload = args[0]
	}
	return resp, nil
}

func writeFrame(w io.Writer, code uint8, args [][]byte) error {
	if len(args) > math.MaxUint16 {
		return fmt.Errorf("%w: %d arguments", ErrMalformedFrame, len(args))
	}
	bodyLen := 0
	for _, a := range args {
		bodyLen += 4 + len(a)
	}
	if bodyLen > MaxBodySize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize, HeaderSize+bodyLen)
	buf[0] = Magic
	buf[1] = code
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(args)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(bodyLen))
	for _, a := range args {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a)))
		buf = append(buf, a...)
	}

	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (uint8, [][]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	if header[0] != Magic {
		return 0, nil, ErrBadMagic
	}

	code := header[1]
	argc := int(binary.BigEndian.Uint16(header[2:4]))
	bodyLen := binary.BigEndian.Uint32(header[4:8])
	if bodyLen > MaxBodySize {
		return 0, nil, ErrFrameTooLarge
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, noEOF(err)
	}

	args := make([][]byte, 0, argc)
	for range argc {
		if len(body) < 4 {
			return 0, nil, ErrMalformedFrame
		}
		n := binary.BigEndian.Uint32(body[:4])
		body = body[4:]
		if uint32(len(body)) < n {
			return 0, nil, ErrMalformedFrame
		}
		args = append(args, body[:n:n])
		body = body[n:]
	}
	if len(body) != 0 {
		return 0, nil, ErrMalformedFrame
	}
	return code, args, nil
}

// noEOF turns a clean EOF inside a frame body into ErrUnexpectedEOF.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
