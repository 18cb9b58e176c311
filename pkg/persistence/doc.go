// Package persistence provides state persistence for UARP accessories and
// controllers.
//
// The accessory keeps its firmware bookkeeping (active and staged versions,
// the staged SuperBinary, the last error) in a JSON file so that a restart
// between staging and apply does not lose the staged image. Payload bytes
// live in the store package; this package only records their digests.
//
// The controller tool keeps a small inventory of the accessories it has
// talked to.
package persistence
