// Package wire implements the RPC wire protocol of spec §6: a
// little-endian length-prefixed request/response envelope. There is no
// third-party framing library in the pack for this exact bespoke byte
// layout; using one would mean re-deriving the spec's wire bytes twice,
// so this package is hand-written against stdlib encoding/binary and io
// (see DESIGN.md's C8 entry).
package wire

import (
	"encoding/binary"
	"io"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

// Version is the only wire protocol version this package emits/accepts.
const Version byte = 1

// FrameType distinguishes a request envelope from a response envelope.
type FrameType byte

const (
	FrameRequest  FrameType = 1
	FrameResponse FrameType = 2
)

// Priority mirrors the connection pool's priority buckets (spec §4.7).
type Priority byte

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
	PriorityBackground
)

// maxFrameSize bounds a single frame to guard against a corrupt or
// hostile length prefix driving an unbounded allocation.
const maxFrameSize = 64 << 20

// RequestFrame is one request envelope (spec §6).
type RequestFrame struct {
	Priority   Priority
	RequestID  uint64
	ServiceID  uint32
	MethodID   uint32
	Topic      string
	AuthHeader []byte
	Payload    []byte
}

// ResponseFrame is one response envelope (spec §6).
type ResponseFrame struct {
	Priority     Priority
	RequestID    uint64
	StatusCode   uint32
	APIErrorCode uint32
	Payload      []byte
}

// EncodeRequest renders f as a complete frame, including the leading
// frame-length prefix, ready to write to a connection.
func EncodeRequest(f RequestFrame) []byte {
	body := make([]byte, 0, 4+len(f.Topic)+2+len(f.AuthHeader)+2+len(f.Payload)+4+24)
	body = append(body, Version, byte(FrameRequest), byte(f.Priority), 0)
	body = appendU64(body, f.RequestID)
	body = appendU32(body, f.ServiceID)
	body = appendU32(body, f.MethodID)
	body = appendU16(body, uint16(len(f.Topic)))
	body = append(body, f.Topic...)
	body = appendU16(body, uint16(len(f.AuthHeader)))
	body = append(body, f.AuthHeader...)
	body = appendU32(body, uint32(len(f.Payload)))
	body = append(body, f.Payload...)
	return prefixLength(body)
}

// EncodeResponse renders f as a complete frame, including the leading
// frame-length prefix.
func EncodeResponse(f ResponseFrame) []byte {
	body := make([]byte, 0, len(f.Payload)+24)
	body = append(body, Version, byte(FrameResponse), byte(f.Priority), 0)
	body = appendU64(body, f.RequestID)
	body = appendU32(body, f.StatusCode)
	body = appendU32(body, f.APIErrorCode)
	body = appendU32(body, uint32(len(f.Payload)))
	body = append(body, f.Payload...)
	return prefixLength(body)
}

// ReadFrame reads one length-prefixed frame body (the bytes following
// the u32 frame-length) from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransport, err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, apperrors.Newf(apperrors.CodeTransport, "frame length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransport, err)
	}
	return buf, nil
}

// PeekType reads the frame type out of a frame body previously returned
// by ReadFrame, without otherwise decoding it.
func PeekType(body []byte) (FrameType, error) {
	if len(body) < 4 {
		return 0, apperrors.Newf(apperrors.CodeTransport, "frame too short for fixed header")
	}
	return FrameType(body[1]), nil
}

// DecodeRequest parses a frame body (as returned by ReadFrame) known to
// carry FrameRequest.
func DecodeRequest(body []byte) (RequestFrame, error) {
	var f RequestFrame
	r := &reader{buf: body}
	version, typ, priority, _, err := r.fixedHeader()
	if err != nil {
		return f, err
	}
	if version != Version {
		return f, apperrors.Newf(apperrors.CodeTransport, "unsupported wire version %d", version)
	}
	if FrameType(typ) != FrameRequest {
		return f, apperrors.Newf(apperrors.CodeTransport, "expected request frame, got type %d", typ)
	}
	f.Priority = Priority(priority)
	if f.RequestID, err = r.u64(); err != nil {
		return f, err
	}
	if f.ServiceID, err = r.u32(); err != nil {
		return f, err
	}
	if f.MethodID, err = r.u32(); err != nil {
		return f, err
	}
	if f.Topic, err = r.lenString16(); err != nil {
		return f, err
	}
	if f.AuthHeader, err = r.lenBytes16(); err != nil {
		return f, err
	}
	if f.Payload, err = r.lenBytes32(); err != nil {
		return f, err
	}
	return f, r.finished()
}

// DecodeResponse parses a frame body known to carry FrameResponse.
func DecodeResponse(body []byte) (ResponseFrame, error) {
	var f ResponseFrame
	r := &reader{buf: body}
	version, typ, priority, _, err := r.fixedHeader()
	if err != nil {
		return f, err
	}
	if version != Version {
		return f, apperrors.Newf(apperrors.CodeTransport, "unsupported wire version %d", version)
	}
	if FrameType(typ) != FrameResponse {
		return f, apperrors.Newf(apperrors.CodeTransport, "expected response frame, got type %d", typ)
	}
	f.Priority = Priority(priority)
	if f.RequestID, err = r.u64(); err != nil {
		return f, err
	}
	if f.StatusCode, err = r.u32(); err != nil {
		return f, err
	}
	if f.APIErrorCode, err = r.u32(); err != nil {
		return f, err
	}
	if f.Payload, err = r.lenBytes32(); err != nil {
		return f, err
	}
	return f, r.finished()
}

func prefixLength(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// reader is a small cursor over a decoded frame body.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if len(r.buf)-r.pos < n {
		return apperrors.Newf(apperrors.CodeTransport, "truncated frame: need %d more bytes", n)
	}
	return nil
}

func (r *reader) fixedHeader() (version, typ, priority, reserved byte, err error) {
	if err = r.need(4); err != nil {
		return
	}
	version, typ, priority, reserved = r.buf[r.pos], r.buf[r.pos+1], r.buf[r.pos+2], r.buf[r.pos+3]
	r.pos += 4
	return
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) lenBytes16() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return v, nil
}

func (r *reader) lenString16() (string, error) {
	b, err := r.lenBytes16()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) lenBytes32() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n > maxFrameSize {
		return nil, apperrors.Newf(apperrors.CodeTransport, "payload length %d exceeds limit", n)
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return v, nil
}

func (r *reader) finished() error {
	if r.pos != len(r.buf) {
		return apperrors.Newf(apperrors.CodeTransport, "frame has %d trailing bytes", len(r.buf)-r.pos)
	}
	return nil
}
