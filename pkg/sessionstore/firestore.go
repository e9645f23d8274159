package sessionstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements Store on Cloud Firestore: one document per caller
// key in a single collection. It survives proxy restarts, which the in-memory
// store deliberately does not.
type FirestoreStore struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
}

type firestoreMapping struct {
	SessionID string    `firestore:"sessionId"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// NewFirestoreStore creates a Firestore-backed store. Uses Application
// Default Credentials unless overridden via opts.
func NewFirestoreStore(ctx context.Context, projectID, collection string, opts ...option.ClientOption) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if collection == "" {
		collection = "agent_sessions"
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreStore{
		client: client,
		coll:   client.Collection(collection),
	}, nil
}

// Get returns the session id tracked for the caller key.
func (s *FirestoreStore) Get(ctx context.Context, callerKey string) (string, bool, error) {
	snap, err := s.coll.Doc(callerKey).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("firestore get: %w", err)
	}
	var m firestoreMapping
	if err := snap.DataTo(&m); err != nil {
		return "", false, fmt.Errorf("firestore decode: %w", err)
	}
	return m.SessionID, true, nil
}

// Set records or overwrites the mapping for the caller key.
func (s *FirestoreStore) Set(ctx context.Context, callerKey, sessionID string) error {
	_, err := s.coll.Doc(callerKey).Set(ctx, firestoreMapping{
		SessionID: sessionID,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("firestore set: %w", err)
	}
	return nil
}

// GetOrSet stores sessionID only if the caller key is untracked.
// Runs in a transaction so racing writers converge on one value.
func (s *FirestoreStore) GetOrSet(ctx context.Context, callerKey, sessionID string) (string, bool, error) {
	ref := s.coll.Doc(callerKey)
	stored := sessionID
	existed := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return tx.Set(ref, firestoreMapping{
				SessionID: sessionID,
				UpdatedAt: time.Now().UTC(),
			})
		}
		if err != nil {
			return err
		}
		var m firestoreMapping
		if err := snap.DataTo(&m); err != nil {
			return err
		}
		stored = m.SessionID
		existed = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("firestore get-or-set: %w", err)
	}
	return stored, existed, nil
}

// Delete removes the mapping for the caller key.
func (s *FirestoreStore) Delete(ctx context.Context, callerKey string) (string, bool, error) {
	ref := s.coll.Doc(callerKey)
	removed := ""
	found := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var m firestoreMapping
		if err := snap.DataTo(&m); err != nil {
			return err
		}
		removed = m.SessionID
		found = true
		return tx.Delete(ref)
	})
	if err != nil {
		return "", false, fmt.Errorf("firestore delete: %w", err)
	}
	return removed, found, nil
}

// HasSession reports whether sessionID is a tracked value.
// Requires a single-field index on sessionId (created by default).
func (s *FirestoreStore) HasSession(ctx context.Context, sessionID string) (bool, error) {
	iter := s.coll.Where("sessionId", "==", sessionID).Limit(1).Documents(ctx)
	defer iter.Stop()
	_, err := iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("firestore query: %w", err)
	}
	return true, nil
}

// Snapshot returns a copy of the current mapping.
func (s *FirestoreStore) Snapshot(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	iter := s.coll.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list: %w", err)
		}
		var m firestoreMapping
		if err := snap.DataTo(&m); err != nil {
			return nil, fmt.Errorf("firestore decode: %w", err)
		}
		out[snap.Ref.ID] = m.SessionID
	}
	return out, nil
}

// Close closes the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
