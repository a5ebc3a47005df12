// Package audit implements the Audit Chain (spec.md §4.7): an append-only,
// hash-linked, Ed25519-signed log of every significant pipeline
// transition, stored in its own database (spec.md §6.3: "separate file").
// Grounded on pkg/database/migrations.go's versioned-migration approach;
// hashing (crypto/sha256) and signing (crypto/ed25519) use stdlib
// cryptographic primitives because no library in the example pack offers
// an alternative content-addressed hash-chain implementation (see
// DESIGN.md's stdlib-justification ledger).
package audit

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// Store is the persistence contract the Chain writes through. It is kept
// narrow so pkg/audit/postgres.go and any in-memory test fake can both
// satisfy it.
type Store interface {
	LastEntry(ctx context.Context) (*models.AuditEntry, error)
	Append(ctx context.Context, entry *models.AuditEntry) error
	EntryAt(ctx context.Context, sequence int64) (*models.AuditEntry, error)
	Tail(ctx context.Context, n int) ([]*models.AuditEntry, error)
	All(ctx context.Context) ([]*models.AuditEntry, error)
	ActiveSigningKey(ctx context.Context) (*models.SigningKey, error)
	SigningKeyByID(ctx context.Context, id string) (*models.SigningKey, error)
}

// Chain appends hash-linked, signed rows and verifies the chain.
type Chain struct {
	store Store
	now   func() time.Time

	// mu serializes Append so reading the last row, assigning the next
	// sequence number and inserting the new row happen as one step.
	mu sync.Mutex
}

// New builds a Chain over a Store.
func New(store Store) *Chain {
	return &Chain{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Append builds and persists the next audit entry for a significant
// transition (spec.md §4.7: task add, thought status change, DMA result
// accepted, action selected, guardrail decision, handler outcome, secret
// access, configuration change).
//
// entry_hash = SHA-256(canonical_bytes(sequence || timestamp || type ||
// originator || payload || previous_hash)); signature =
// Ed25519(entry_hash, current_signing_key).
func (c *Chain) Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.store.LastEntry(ctx)
	if err != nil {
		return nil, err
	}

	var seq int64 = 1
	var prevHash []byte
	if last != nil {
		seq = last.SequenceNumber + 1
		prevHash = last.EntryHash
	}

	key, err := c.store.ActiveSigningKey(ctx)
	if err != nil {
		return nil, err
	}

	entry := &models.AuditEntry{
		EventID:        eventID(seq),
		SequenceNumber: seq,
		EventTimestamp: c.now(),
		EventType:      eventType,
		OriginatorID:   originatorID,
		Payload:        payload,
		PreviousHash:   prevHash,
	}
	entry.EntryHash = canonicalHash(entry)

	if key != nil && len(key.PrivateKey) == ed25519.PrivateKeySize {
		entry.Signature = ed25519.Sign(ed25519.PrivateKey(key.PrivateKey), entry.EntryHash)
		entry.SigningKeyID = key.ID
	}
	// A row with a null signature (no active signer configured) is an
	// integrity warning, not a failure (spec.md §4.7).

	if err := c.store.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func eventID(seq int64) string {
	return fmt.Sprintf("evt-%016d", seq)
}

// canonicalHash computes entry_hash over the fixed-order byte encoding of
// the entry's fields, deliberately not relying on payload map iteration
// order (Go map iteration is randomized; canonicalPayloadBytes in
// canonical.go sorts keys).
func canonicalHash(e *models.AuditEntry) []byte {
	h := sha256.New()
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(e.SequenceNumber))
	h.Write(seqBuf[:])
	h.Write([]byte(e.EventTimestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(e.EventType))
	h.Write([]byte(e.OriginatorID))
	h.Write(canonicalPayloadBytes(e.Payload))
	h.Write(e.PreviousHash)
	return h.Sum(nil)
}

// VerifyResult is the outcome of a chain verification pass (spec.md §4.7,
// §8 invariant 2).
type VerifyResult struct {
	Valid        bool
	FailedAt     int64 // sequence number of the first failure, 0 if valid
	FailedReason string
}

// VerifyFull recomputes hashes for every row and checks the chain
// end-to-end (spec.md §4.7: "a full pass recomputes hashes and checks the
// chain").
func (c *Chain) VerifyFull(ctx context.Context) (VerifyResult, error) {
	entries, err := c.store.All(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyChain(ctx, c.store, entries)
}

// VerifySampled verifies only the local chain among the last n rows
// (spec.md §4.7: "a sampled pass takes the last N rows and verifies the
// local chain").
func (c *Chain) VerifySampled(ctx context.Context, n int) (VerifyResult, error) {
	entries, err := c.store.Tail(ctx, n)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyChain(ctx, c.store, entries)
}

func verifyChain(ctx context.Context, store Store, entries []*models.AuditEntry) (VerifyResult, error) {
	for i, e := range entries {
		recomputed := canonicalHash(e)
		if !bytesEqual(recomputed, e.EntryHash) {
			return VerifyResult{FailedAt: e.SequenceNumber, FailedReason: "entry_hash mismatch"}, nil
		}

		if i > 0 {
			prev := entries[i-1]
			if prev.SequenceNumber+1 != e.SequenceNumber {
				return VerifyResult{FailedAt: e.SequenceNumber, FailedReason: "sequence gap"}, nil
			}
			if !bytesEqual(prev.EntryHash, e.PreviousHash) {
				return VerifyResult{FailedAt: e.SequenceNumber, FailedReason: "previous_hash mismatch"}, nil
			}
		}

		if len(e.Signature) == 0 {
			continue // integrity warning only, not a failure
		}
		key, err := store.SigningKeyByID(ctx, e.SigningKeyID)
		if err != nil {
			return VerifyResult{}, err
		}
		if key == nil || !ed25519.Verify(ed25519.PublicKey(key.PublicKey), e.EntryHash, e.Signature) {
			return VerifyResult{FailedAt: e.SequenceNumber, FailedReason: "signature verification failed"}, nil
		}
	}
	return VerifyResult{Valid: true}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// requireIntegrity wraps a verification failure as a fatal KindIntegrity
// error (spec.md §7: audit hash mismatch / key verification failure is
// "fatal: halt new processing, surface via emergency channel").
func requireIntegrity(r VerifyResult) error {
	if r.Valid {
		return nil
	}
	return apperrors.Integrity("audit.chain", fmt.Sprintf("verification failed at sequence %d: %s", r.FailedAt, r.FailedReason))
}

// RequireFullyValid runs VerifyFull and returns a fatal KindIntegrity error
// if the chain does not verify, for callers that must halt rather than
// merely report (spec.md §7). Nothing in this module calls it; the
// Scheduler runs no startup chain check.
func (c *Chain) RequireFullyValid(ctx context.Context) error {
	result, err := c.VerifyFull(ctx)
	if err != nil {
		return err
	}
	return requireIntegrity(result)
}
