// Package board provides the whiteboard data model and the storage contracts
// used by the easel session engine.
//
// # Overview
//
// A Board is one named collaborative canvas: a set of addressable objects
// (raw JSON documents keyed by object id) plus board-level background
// metadata. Boards are loaded from a Store when the first session joins and
// saved back when the last session leaves; while resident they are mutated
// in memory only.
//
// # Stores
//
// Three Store implementations exist:
//
//   - MemoryStore keeps snapshots in process memory (development and tests).
//   - Client persists boards in Redis and also relays accepted mutations over
//     Redis Pub/Sub so `easel watch` can tail a board live.
//   - internal/storage/s3 persists snapshots as JSON objects in S3-compatible
//     storage.
//
// # Redis Schema
//
// All Redis keys follow the pattern: easel:{namespace}:board:{name}:{entity}
//
// Objects: easel:{namespace}:board:{name}:objects (hash, id -> JSON)
// Background: easel:{namespace}:board:{name}:background (string)
// Images: easel:{namespace}:board:{name}:images (set of document object ids)
//
// Pub/Sub channel: easel:{namespace}:board:{name}:events
package board
