// Package service hosts the UARP accessory engine.
//
// AccessoryService owns one accessory.Accessory and everything the engine
// leaves to its host:
//   - a single event-loop goroutine through which every engine entry
//     point runs (transport reads, timer fires, operator commands)
//   - timers built on time.AfterFunc that post their fires to the loop
//   - one controller session per transport link (TCP/TLS, WebSocket,
//     serial), optionally with a writer goroutine per link
//   - the firmware delegate, which decides offers, streams payloads into
//     the payload store, persists the staged asset and applies it
//   - mDNS announcement of the accessory and its firmware version
//
// Example usage:
//
//	config := service.DefaultConfig()
//	config.Serial = "SN-0001"
//	config.DataDir = "/var/lib/uarp"
//
//	svc, err := service.New(config)
//	svc.OnEvent(func(e service.Event) { ... })
//	svc.Start(ctx)
//	defer svc.Stop()
package service
