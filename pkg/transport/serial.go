package transport

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/uarp-protocol/uarp-go/pkg/log"
)

// DefaultBaudRate is used when SerialConfig.BaudRate is zero.
const DefaultBaudRate = 115200

// SerialConfig configures a serial link.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud"`

	// Logger receives frame events (optional).
	Logger log.Logger `yaml:"-"`
}

// OpenSerial opens a UART link with 8N1 framing. Messages are byte-stuffed
// CRC frames. The connection ID is the port name.
func OpenSerial(cfg SerialConfig) (*StreamConn, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	framer := NewStuffedFramer(port)
	if cfg.Logger != nil {
		framer.SetLogger(cfg.Logger, cfg.Port)
	}
	return NewStreamConn(cfg.Port, fmt.Sprintf("%s@%d", cfg.Port, cfg.BaudRate), port, framer), nil
}

// SerialPorts lists the serial ports of the host.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
