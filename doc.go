// Package brightchain is an owner-free, content-addressable block store.
//
// A block store stores fixed-size sequences of bytes,
// or _blocks_,
// and indexes them by their hash,
// which is used as a unique key.
// Block sizes come from a small closed catalogue
// (see BlockSize),
// and the hash is SHA3-512.
//
// Blocks are never stored as-is.
// Before a block of source data is persisted
// it is _whitened_:
// XORed with one or more blocks of pure random data,
// called randomizers.
// The whitened block and its randomizers form a tuple,
// and every member of the tuple is stored as an independent,
// content-addressed block.
// No single stored block reveals anything about the source data,
// and randomizers may be shared freely between tuples.
// See the whiten subpackage.
//
// To get the source data back you need the ordered list of tuple members.
// That list is itself stored as a block,
// the Constituent Block List or CBL.
// A CBL also records the hash and length of the whole source stream,
// so reconstruction can be verified end to end.
// See the cbl subpackage,
// and the brighten subpackage for reading and writing whole streams.
//
// Blocks pass through a cache manager
// (the cache subpackage)
// on their way into and out of a storage backend
// (the store subpackage and its children).
// The cache manager validates blocks,
// gates persistence through a two-phase commit state machine
// (the txn subpackage),
// and maintains the CBL and expiration indexes.
package brightchain
