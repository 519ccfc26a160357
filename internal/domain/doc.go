// Package domain contains the core entities of the DataProxy client.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (network, file system, logging) and holds only
// the data model and its invariants.
//
// # Entities
//
//   - [Message]: one application record bound for a group/stream
//   - [Batch]: messages of one group/stream packed for a single send
//   - [Packet]: an encoded, possibly compressed batch ready for the wire
//   - [Endpoint]: a DataProxy address and its health
//
// A Message belongs to exactly one Batch. A Batch reaches a terminal
// outcome exactly once; [Batch.MarkDone] is the single gate for that.
package domain
