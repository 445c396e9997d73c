// Package repo persists therapy domain records in a kv.Store, maintaining
// the secondary indexes the continuity engine and activity queries rely
// on. Records are msgpack-encoded; index entries hold only the target ID.
package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lumenkind/sona/pkg/kv"
	"github.com/lumenkind/sona/pkg/therapy"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("repo: not found")

// Repo reads and writes therapy records. All writes go through Repo so the
// secondary indexes stay consistent with the primary records.
type Repo struct {
	store kv.Store
}

// New creates a Repo over the given store.
func New(store kv.Store) *Repo {
	return &Repo{store: store}
}

// PutUser stores a user record and refreshes the activity index. A stale
// index entry from the user's previous lastActiveAt is removed.
func (r *Repo) PutUser(ctx context.Context, u *therapy.User) error {
	if u.ID == "" {
		return fmt.Errorf("repo: put user: %w: empty user id", therapy.ErrValidation)
	}

	var stale []kv.Key
	prev, err := r.GetUser(ctx, u.ID)
	switch {
	case err == nil:
		old := userActivityIndexKey(prev.IsAnonymous, prev.LastActiveAt, prev.ID)
		cur := userActivityIndexKey(u.IsAnonymous, u.LastActiveAt, u.ID)
		if old.String() != cur.String() {
			stale = append(stale, old)
		}
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}

	data, err := msgpack.Marshal(u)
	if err != nil {
		return fmt.Errorf("repo: encode user %s: %w", u.ID, err)
	}
	entries := []kv.Entry{
		{Key: userKey(u.ID), Value: data},
		{Key: userActivityIndexKey(u.IsAnonymous, u.LastActiveAt, u.ID), Value: []byte(u.ID)},
	}
	if err := r.store.BatchSet(ctx, entries); err != nil {
		return fmt.Errorf("repo: put user %s: %w", u.ID, err)
	}
	if len(stale) > 0 {
		if err := r.store.BatchDelete(ctx, stale); err != nil {
			return fmt.Errorf("repo: prune activity index for %s: %w", u.ID, err)
		}
	}
	return nil
}

// GetUser loads a user by ID.
func (r *Repo) GetUser(ctx context.Context, userID string) (*therapy.User, error) {
	data, err := r.store.Get(ctx, userKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("repo: user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: get user %s: %w", userID, err)
	}
	var u therapy.User
	if err := msgpack.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("repo: decode user %s: %w", userID, therapy.ErrDataIntegrity)
	}
	return &u, nil
}

// PutSession stores a session record and its chronological index entry.
func (r *Repo) PutSession(ctx context.Context, s *therapy.Session) error {
	if s.ID == "" || s.UserID == "" {
		return fmt.Errorf("repo: put session: %w: empty id", therapy.ErrValidation)
	}
	data, err := msgpack.Marshal(s)
	if err != nil {
		return fmt.Errorf("repo: encode session %s: %w", s.ID, err)
	}
	entries := []kv.Entry{
		{Key: sessionKey(s.ID), Value: data},
		{Key: userSessionIndexKey(s.UserID, s.StartTime, s.ID), Value: []byte(s.ID)},
	}
	if err := r.store.BatchSet(ctx, entries); err != nil {
		return fmt.Errorf("repo: put session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession loads a session by ID.
func (r *Repo) GetSession(ctx context.Context, sessionID string) (*therapy.Session, error) {
	data, err := r.store.Get(ctx, sessionKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("repo: session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: get session %s: %w", sessionID, err)
	}
	var s therapy.Session
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("repo: decode session %s: %w", sessionID, therapy.ErrDataIntegrity)
	}
	return &s, nil
}

// SessionsByUser returns the user's sessions, newest first, up to limit.
// Pass limit <= 0 for all sessions.
func (r *Repo) SessionsByUser(ctx context.Context, userID string, limit int) ([]*therapy.Session, error) {
	// The index is in chronological key order; collect IDs then reverse.
	var ids []string
	for entry, err := range r.store.List(ctx, userSessionIndexPrefix(userID)) {
		if err != nil {
			return nil, fmt.Errorf("repo: scan sessions for %s: %w", userID, err)
		}
		ids = append(ids, string(entry.Value))
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	sessions := make([]*therapy.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry outlived its record; skip rather than fail the scan.
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// OpenSessions returns all sessions with no end time, oldest first. The
// abandoned-session sweeper is the primary consumer.
func (r *Repo) OpenSessions(ctx context.Context) ([]*therapy.Session, error) {
	var open []*therapy.Session
	for entry, err := range r.store.List(ctx, kv.Key{"sess"}) {
		if err != nil {
			return nil, fmt.Errorf("repo: scan open sessions: %w", err)
		}
		var s therapy.Session
		if err := msgpack.Unmarshal(entry.Value, &s); err != nil {
			return nil, fmt.Errorf("repo: decode session %s: %w", entry.Key, therapy.ErrDataIntegrity)
		}
		if s.EndTime == nil {
			open = append(open, &s)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].StartTime.Before(open[j].StartTime) })
	return open, nil
}

// ActiveUsers returns user IDs in the given anonymity partition whose
// lastActiveAt index entries fall at or after the since timestamp,
// most recent last.
func (r *Repo) ActiveUsers(ctx context.Context, isAnonymous bool, sinceMillis string) ([]string, error) {
	var ids []string
	for entry, err := range r.store.List(ctx, userActivityIndexPrefix(isAnonymous)) {
		if err != nil {
			return nil, fmt.Errorf("repo: scan active users: %w", err)
		}
		// Key shape: idx:useract:{anon|reg}:{millis}:{userId}
		if len(entry.Key) != 5 {
			continue
		}
		if sinceMillis != "" && entry.Key[3] < sinceMillis {
			continue
		}
		ids = append(ids, string(entry.Value))
	}
	return ids, nil
}

// WatchSessions exposes the change-capture stream of session records.
func (r *Repo) WatchSessions(ctx context.Context) <-chan kv.Change {
	return r.store.Watch(ctx, kv.Key{"sess"})
}
