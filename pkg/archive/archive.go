package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/lumenkind/sona/pkg/therapy"
)

// Archiver writes session records to a FileStore as JSON documents, one
// per session under users/{userId}/sessions/{sessionId}.json. The
// transcript field stays in its encrypted envelope form.
type Archiver struct {
	store FileStore
}

// NewArchiver creates an Archiver over the given store.
func NewArchiver(store FileStore) *Archiver {
	return &Archiver{store: store}
}

func sessionPath(userID, sessionID string) string {
	return path.Join("users", userID, "sessions", sessionID+".json")
}

// Export writes one session record to the archive. Only completed
// sessions are exportable.
func (a *Archiver) Export(ctx context.Context, sess *therapy.Session) error {
	if !sess.Completed() {
		return fmt.Errorf("archive: session %s is not completed", sess.ID)
	}
	w, err := a.store.Write(ctx, sessionPath(sess.UserID, sess.ID))
	if err != nil {
		return fmt.Errorf("archive: export %s: %w", sess.ID, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sess); err != nil {
		w.Close()
		return fmt.Errorf("archive: export %s: %w", sess.ID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: export %s: %w", sess.ID, err)
	}
	return nil
}

// Load reads one archived session record.
func (a *Archiver) Load(ctx context.Context, userID, sessionID string) (*therapy.Session, error) {
	r, err := a.store.Read(ctx, sessionPath(userID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("archive: load %s: %w", sessionID, err)
	}
	defer r.Close()
	var sess therapy.Session
	if err := json.NewDecoder(r).Decode(&sess); err != nil {
		return nil, fmt.Errorf("archive: load %s: %w: %v", sessionID, therapy.ErrDataIntegrity, err)
	}
	return &sess, nil
}

// Remove deletes one archived session record. Removing a session that was
// never archived is a no-op, so erasure requests can run blindly over a
// user's session list.
func (a *Archiver) Remove(ctx context.Context, userID, sessionID string) error {
	return a.store.Delete(ctx, sessionPath(userID, sessionID))
}
