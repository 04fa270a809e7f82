// Package cdc defines the wire data model shared by the transform host, the
// rollback-window cache, the inversion engine and every sink implementation:
// block metadata, change-data-capture messages, and the transform's
// persistent state mapping.
package cdc

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockMetadata identifies a single processed block. It is created once a
// block has been observed and is immutable thereafter.
type BlockMetadata struct {
	Height      uint32 `json:"height"`
	Hash        string `json:"hash"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

// HashBytes decodes Hash, which may carry an optional "0x" prefix, into raw
// bytes.
func (m BlockMetadata) HashBytes() ([]byte, error) {
	return decodeHex(m.Hash)
}

// EncodeHash renders raw hash bytes in the canonical "0x"-prefixed lowercase
// hex form used throughout this package.
func EncodeHash(b []byte) string {
	return hexutil.Encode(b)
}

// DecodeHash is the inverse of EncodeHash: it decodes a "0x"-prefixed (or
// bare) hex hash string back into raw bytes, returning nil for an empty
// string rather than an error.
func DecodeHash(s string) []byte {
	b, err := decodeHex(s)
	if err != nil {
		return nil
	}
	return b
}

func decodeHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) < 2 || s[0:2] != "0x" {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// Operation is the kind of mutation a CdcPayload describes.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Payload carries one logical mutation to a downstream table/key. Its
// Before/After invariants depend on Operation:
//
//	Create: Before == nil, After != nil
//	Delete: Before != nil, After == nil
//	Update: Before != nil, After != nil
type Payload struct {
	Operation Operation       `json:"operation"`
	Table     string          `json:"table"`
	Key       string          `json:"key"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
}

// Validate checks the Before/After invariant for Operation.
func (p Payload) Validate() error {
	switch p.Operation {
	case OpCreate:
		if p.Before != nil || p.After == nil {
			return fmt.Errorf("cdc: create payload for %s/%s must have before=nil, after=set", p.Table, p.Key)
		}
	case OpUpdate:
		if p.Before == nil || p.After == nil {
			return fmt.Errorf("cdc: update payload for %s/%s must have before and after set", p.Table, p.Key)
		}
	case OpDelete:
		if p.Before == nil || p.After != nil {
			return fmt.Errorf("cdc: delete payload for %s/%s must have before=set, after=nil", p.Table, p.Key)
		}
	default:
		return fmt.Errorf("cdc: unknown operation %q", p.Operation)
	}
	return nil
}

// Header carries provenance and ordering information for a Message.
type Header struct {
	Source        string  `json:"source"`
	TimestampMS   uint64  `json:"timestamp"`
	BlockHeight   uint32  `json:"block_height"`
	BlockHash     string  `json:"block_hash"`
	TransactionID *string `json:"transaction_id"`
}

// Message is one emitted CDC record. Once emitted by the transform host it is
// never mutated; inversion produces a new Message rather than editing one.
type Message struct {
	Header  Header  `json:"header"`
	Payload Payload `json:"payload"`
}

// Batch is an ordered list of messages produced by a single entry-point
// invocation (process_block or rollback).
type Batch []Message
