// Package peer implements the controller side of a UARP link.
//
// A Session drives one accessory over a transport.Conn: it discovers the
// protocol version, reads accessory information, offers assets and answers
// the accessory's data requests from memory until the accessory reports
// the outcome in a processing notification.
//
//	conn, _ := transport.Dial(ctx, "accessory.local:7411", transport.ClientConfig{})
//	s := peer.NewSession(conn, peer.Config{})
//	go s.Run(ctx)
//
//	tr, _ := s.OfferSuperBinary(ctx, wire.MustTag("FWUP"), image)
//	result, _ := tr.Wait(ctx)
//
// Requests are matched to responses by message type and the asset, option
// or tag they name, since UARP responses do not echo message IDs. At most
// one request per key is in flight.
package peer
