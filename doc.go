// Package reprise is a revisioned transactional key-value database.
//
// Every commit is assigned the next revision by a single coordinator,
// sealed into a hash-linked audit chain and made durable in a journal
// before it becomes visible. Reads select a version by revision: the
// latest, the one visible as of a revision, or the one written exactly at
// it. Old history can be streamed out into verified archives, compacted
// away from the live store and still be read through mounted archives.
//
// See the [github.com/reprisedb/go-reprise/tx] package for conditional
// transactions and [github.com/reprisedb/go-reprise/coordinator] for the
// commit protocol.
package reprise
