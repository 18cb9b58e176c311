// Package connection keeps point-to-point controller links up.
//
// A serial accessory has no listener: the controller is whatever sits at
// the other end of the UART, and the port disappears when a USB adapter
// is unplugged. A Supervisor owns one such link. It serves the link until
// it closes, then reopens it with exponential backoff:
//
//  1. Initial delay: 500 milliseconds
//  2. Doubling: 1s, 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds, repeated until the port opens again
//  4. Back to the initial delay after a successful open
//
// Jitter of up to a quarter of the base delay is added to every wait:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
