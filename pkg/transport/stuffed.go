package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/uarp-protocol/uarp-go/pkg/log"
)

// Stuffed framing delimiters. Any of them inside a frame is sent as
// EscapeByte followed by the byte XOR EscapeXor.
const (
	StartByte  = 0x7E
	EndByte    = 0x7F
	EscapeByte = 0x7D
	EscapeXor  = 0x20

	crcInitial    = 0xFFFF
	crcPolynomial = 0x1021
	crcSize       = 2
)

// Stuffed framing errors.
var (
	// ErrCRCMismatch indicates a frame whose checksum did not match.
	ErrCRCMismatch = errors.New("frame CRC mismatch")

	// ErrUnexpectedEnd indicates an end byte without a complete frame.
	ErrUnexpectedEnd = errors.New("unexpected end of frame")
)

// CRC16 computes the CRC-16/CCITT-FALSE checksum of data.
func CRC16(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// AppendStuffed appends the framed, escaped form of msg to dst.
func AppendStuffed(dst, msg []byte) []byte {
	crc := CRC16(msg)
	dst = append(dst, StartByte)
	for _, b := range append(msg[:len(msg):len(msg)], byte(crc>>8), byte(crc)) {
		if b == StartByte || b == EndByte || b == EscapeByte {
			dst = append(dst, EscapeByte, b^EscapeXor)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, EndByte)
}

// StuffedFramer reads and writes byte-stuffed CRC frames. It suits links
// without message boundaries or error detection, such as a UART.
//
// Bytes outside a frame are line noise and skipped. A corrupt frame is
// reported once and the reader resynchronises on the next start byte.
type StuffedFramer struct {
	frameLog
	r              *bufio.Reader
	w              io.Writer
	maxMessageSize uint32
	buf            []byte
	wmu            sync.Mutex
}

// NewStuffedFramer creates a framer over rw.
func NewStuffedFramer(rw io.ReadWriter) *StuffedFramer {
	return &StuffedFramer{
		frameLog:       frameLog{overhead: 2 + crcSize},
		r:              bufio.NewReader(rw),
		w:              rw,
		maxMessageSize: DefaultMaxMessageSize,
	}
}

// WriteFrame writes one message. Safe for concurrent use.
func (f *StuffedFramer) WriteFrame(data []byte) error {
	if err := checkSize(len(data), f.maxMessageSize); err != nil {
		return err
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()

	if _, err := f.w.Write(AppendStuffed(nil, data)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	f.log(data, log.DirectionOut)
	return nil
}

// ReadFrame returns the next valid message.
func (f *StuffedFramer) ReadFrame() ([]byte, error) {
	inFrame, escaped := false, false
	f.buf = f.buf[:0]

	for {
		b, err := f.r.ReadByte()
		if err != nil {
			if err == io.EOF && inFrame {
				return nil, ErrFrameTruncated
			}
			return nil, err
		}

		switch {
		case b == StartByte:
			// A start inside a frame abandons the partial frame.
			inFrame, escaped = true, false
			f.buf = f.buf[:0]
			continue
		case !inFrame:
			continue
		case b == EndByte:
			msg, err := f.finish(escaped)
			if err != nil {
				return nil, err
			}
			f.log(msg, log.DirectionIn)
			return msg, nil
		case b == EscapeByte:
			escaped = true
			continue
		case escaped:
			b ^= EscapeXor
			escaped = false
		}

		if uint32(len(f.buf)) >= f.maxMessageSize+crcSize {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMessageTooLarge, f.maxMessageSize)
		}
		f.buf = append(f.buf, b)
	}
}

func (f *StuffedFramer) finish(escaped bool) ([]byte, error) {
	if escaped || len(f.buf) < crcSize {
		return nil, ErrUnexpectedEnd
	}
	n := len(f.buf) - crcSize
	msg := f.buf[:n]
	want := uint16(f.buf[n])<<8 | uint16(f.buf[n+1])
	if got := CRC16(msg); got != want {
		return nil, fmt.Errorf("%w: 0x%04X != 0x%04X", ErrCRCMismatch, got, want)
	}
	if err := checkSize(n, f.maxMessageSize); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, msg)
	return out, nil
}
