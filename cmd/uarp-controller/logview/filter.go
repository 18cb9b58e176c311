package logview

import (
	"fmt"
	"io"
	"time"

	"github.com/uarp-protocol/uarp-go/pkg/log"
	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output      string
	ConnID      string
	AccessoryID string
	Controller  uint32
	TimeStart   string
	TimeEnd     string
	Layer       string
	Direction   string
	Category    string

	// MessageType is a wire message type number, e.g. 7 for data responses.
	// Negative matches every type.
	MessageType int
}

// Filter builds the reader filter described by opts.
func (opts FilterOptions) Filter() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		AccessoryID:  opts.AccessoryID,
		ControllerID: opts.Controller,
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	vf, err := NewViewFilter(opts.Layer, opts.Direction, opts.Category)
	if err != nil {
		return filter, err
	}
	filter.Layer, filter.Direction, filter.Category = vf.Layer, vf.Direction, vf.Category

	if opts.MessageType >= 0 {
		if opts.MessageType > 0xFFFF {
			return filter, fmt.Errorf("invalid message type: %d", opts.MessageType)
		}
		mt := wire.MessageType(opts.MessageType)
		filter.MessageType = &mt
	}
	return filter, nil
}

// RunFilter copies the events of the capture at path matching opts into
// a new capture file and returns how many were written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := opts.Filter()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
	return count, logger.Close()
}
