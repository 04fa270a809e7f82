// Package invert implements the inversion engine: a pure function turning a
// CDC batch into its semantic inverse for reorg unwind. Inversion assumes
// each (table, key) pair is written at most once per block; batches that
// touch the same key twice within one block may not round-trip.
package invert

import (
	"time"

	"cdcbridge/pkg/cdc"
)

// Message inverts a single CDC message:
//
//	Create -> Delete (before = original after, after = none)
//	Delete -> Create (before = none, after = original before)
//	Update -> Update (before/after swapped)
//
// The inverse carries newHeight and newHash in its header, the original
// source/table/key, and no transaction id.
func Message(msg cdc.Message, newHeight uint32, newHash string) cdc.Message {
	var operation cdc.Operation
	var before, after []byte

	switch msg.Payload.Operation {
	case cdc.OpCreate:
		operation = cdc.OpDelete
		before = msg.Payload.After
		after = nil
	case cdc.OpUpdate:
		operation = cdc.OpUpdate
		before = msg.Payload.After
		after = msg.Payload.Before
	case cdc.OpDelete:
		operation = cdc.OpCreate
		before = nil
		after = msg.Payload.Before
	default:
		// Unknown operations cannot have reached this point: every
		// batch passes Payload.Validate() before being cached.
		operation = msg.Payload.Operation
		before = msg.Payload.Before
		after = msg.Payload.After
	}

	return cdc.Message{
		Header: cdc.Header{
			Source:        msg.Header.Source,
			TimestampMS:   uint64(time.Now().UnixMilli()),
			BlockHeight:   newHeight,
			BlockHash:     newHash,
			TransactionID: nil,
		},
		Payload: cdc.Payload{
			Operation: operation,
			Table:     msg.Payload.Table,
			Key:       msg.Payload.Key,
			Before:    before,
			After:     after,
		},
	}
}

// Batch inverts every message in batch and returns them in reverse order,
// so applying the result undoes the original batch's effects last-first.
func Batch(batch cdc.Batch, newHeight uint32, newHash string) cdc.Batch {
	out := make(cdc.Batch, len(batch))
	for i, msg := range batch {
		out[len(batch)-1-i] = Message(msg, newHeight, newHash)
	}
	return out
}
