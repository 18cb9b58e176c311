// Package discovery implements mDNS/DNS-SD discovery of UARP accessories.
//
// Accessories that accept controller links over TCP advertise one instance
// of the _uarp._tcp service. The instance name is the accessory's serial
// number, prefixed with its model when one is configured:
//
//	<model>-<serial>._uarp._tcp.local.
//
// # TXT Records
//
//   - sn: serial number (required)
//   - mf: manufacturer name
//   - md: model name
//   - hw: hardware version
//   - fw: active firmware version, "major.minor.release.build"
//   - pv: highest supported protocol version
//   - tls: "1" when the port requires TLS
//
// Controllers browse for the service, aggregate the addresses reported per
// interface, and dial the accessory at Addr. The accessory refreshes the fw
// record after a firmware apply so that controllers can decide whether an
// offer is worthwhile before connecting.
package discovery
