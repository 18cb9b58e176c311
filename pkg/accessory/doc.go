// Package accessory implements the accessory side of the asset transfer
// protocol: the engine that accepts firmware assets offered by remote
// controllers and pulls them in bounded chunks.
//
// # Entry Points
//
// The engine is single-threaded. All state changes happen inside one of
// three kinds of entry point:
//
//   - Receive, for every inbound message of a controller
//   - the fire function handed to Timers.StartTimer
//   - API calls such as Accept, Deny, Abandon or SetPayloadIndex
//
// The host must serialize them (see pkg/service for an event loop). Entry
// points may nest: a delegate callback running inside Receive may call
// Accept directly. Released assets are reclaimed by a sweep that only runs
// when the outermost entry point returns, so a callback never sees storage
// disappear under it.
//
// # Staging
//
// An accepted SuperBinary is pulled in this order:
//
//	header -> metadata -> (payload selected by the delegate)
//	       -> payload header -> payload metadata -> payload data
//
// Each step issues AssetDataRequest messages for one region of the asset,
// never more than one outstanding per asset. Delegate callbacks report each
// step; the delegate drives payload selection and marks the asset fully
// staged.
//
// # Competing Offers
//
// At most one asset is active at a time. An offer equal to the active asset
// (same tag, flags, length and payload count) is merged into it and staging
// resumes where it stopped. A strictly newer offer is surfaced to the
// delegate, anything else is denied without surfacing.
package accessory
