package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize fits the largest UARP message: a header plus a
	// payload of 0xFFFF bytes.
	DefaultMaxMessageSize = wire.HeaderSize + 0xFFFF

	// MinMessageSize is the smallest valid message, a bare header.
	MinMessageSize = wire.HeaderSize

	// MaxLogFrameDataSize caps the frame bytes copied into log events.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageShort indicates a message shorter than a UARP header.
	ErrMessageShort = errors.New("message shorter than header")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// frameLog is the optional protocol logger shared by all framers.
type frameLog struct {
	logger   log.Logger
	connID   string
	overhead int
}

// SetLogger configures frame logging. Pass nil to disable it.
func (l *frameLog) SetLogger(logger log.Logger, connID string) {
	l.logger = logger
	l.connID = connID
}

func (l *frameLog) log(data []byte, dir log.Direction) {
	if l.logger == nil {
		return
	}
	ev := &log.FrameEvent{Size: l.overhead + len(data), Data: data}
	if len(data) > MaxLogFrameDataSize {
		ev.Data = data[:MaxLogFrameDataSize]
		ev.Truncated = true
	}
	l.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        ev,
	})
}

func checkSize(n int, max uint32) error {
	switch {
	case n < MinMessageSize:
		return fmt.Errorf("%w: %d bytes", ErrMessageShort, n)
	case uint32(n) > max:
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, max)
	}
	return nil
}

// FrameWriter writes length-prefixed frames to an underlying writer.
type FrameWriter struct {
	frameLog
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		frameLog:       frameLog{overhead: LengthPrefixSize},
		w:              w,
		maxMessageSize: maxSize,
	}
}

// WriteFrame writes one message. Safe for concurrent use.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if err := checkSize(len(data), fw.maxMessageSize); err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	// One write keeps the frame contiguous on the wire.
	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	fw.log(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames from an underlying reader.
type FrameReader struct {
	frameLog
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		frameLog:       frameLog{overhead: LengthPrefixSize},
		r:              r,
		maxMessageSize: maxSize,
	}
}

// ReadFrame reads one message. io.EOF is returned unwrapped when the
// stream ends between frames.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if err := checkSize(int(min(length, fr.maxMessageSize+1)), fr.maxMessageSize); err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	fr.log(payload, log.DirectionIn)
	return payload, nil
}

// SetMaxMessageSize updates the maximum message size.
func (fr *FrameReader) SetMaxMessageSize(size uint32) {
	fr.maxMessageSize = size
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize creates a framer with a custom max message size.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures logging for both reader and writer.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
