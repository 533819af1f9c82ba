// Package store persists session history: one metadata record per session
// and one record per workflow transition. Image bytes are never stored;
// artifacts are referenced by their S3 keys.
//
// The DynamoDB layout is a single table where all records for a session
// share a partition key (SESSION#{sessionId}). The sort key is META for the
// session record and TRANSITION#{seq} for each transition. A TTL attribute
// (expiresAt) removes records once the session is stale.
package store

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is the default time-to-live for stored records.
const DefaultTTL = 24 * time.Hour

// HistoryStore is the persistence interface for session history.
// Implementations are safe for concurrent use.
//
// Get methods return (nil, nil) when the record does not exist.
// Put methods perform full-item replacement (upsert semantics).
type HistoryStore interface {
	// PutSession creates or replaces a session metadata record.
	PutSession(ctx context.Context, session *Session) error

	// GetSession retrieves session metadata by ID. Returns nil, nil if not found.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// PutTransition records one transition. Records with the same Seq replace
	// each other.
	PutTransition(ctx context.Context, t *Transition) error

	// ListTransitions returns a session's transitions ordered by Seq.
	ListTransitions(ctx context.Context, sessionID string) ([]*Transition, error)
}

// Session is the latest known state of a session (SK = META).
type Session struct {
	ID           string `json:"id" dynamodbav:"-"`
	Phase        string `json:"phase" dynamodbav:"phase"`
	Persona      string `json:"persona,omitempty" dynamodbav:"persona,omitempty"`
	LastError    string `json:"lastError,omitempty" dynamodbav:"lastError,omitempty"`
	CompositeKey string `json:"compositeKey,omitempty" dynamodbav:"compositeKey,omitempty"`
	FinalKey     string `json:"finalKey,omitempty" dynamodbav:"finalKey,omitempty"`
	CreatedAt    int64  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Transition is one step of a session's workflow (SK = TRANSITION#{seq}).
type Transition struct {
	SessionID   string `json:"-" dynamodbav:"-"`
	Seq         int64  `json:"seq" dynamodbav:"seq"`
	Trigger     string `json:"trigger" dynamodbav:"trigger"`
	From        string `json:"from" dynamodbav:"from"`
	To          string `json:"to" dynamodbav:"to"`
	Persona     string `json:"persona,omitempty" dynamodbav:"persona,omitempty"`
	Error       string `json:"error,omitempty" dynamodbav:"error,omitempty"`
	DurationMs  int64  `json:"durationMs,omitempty" dynamodbav:"durationMs,omitempty"`
	ArtifactKey string `json:"artifactKey,omitempty" dynamodbav:"artifactKey,omitempty"`
	RecordedAt  int64  `json:"recordedAt" dynamodbav:"recordedAt"`
}

// transitionSK zero-pads seq so lexical sort order matches numeric order.
func transitionSK(seq int64) string {
	return fmt.Sprintf("%s%012d", skTransition, seq)
}
