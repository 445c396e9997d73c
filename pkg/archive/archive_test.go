package archive_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/lumenkind/sona/pkg/archive"
	"github.com/lumenkind/sona/pkg/therapy"
)

func completedSession() *therapy.Session {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)
	dur := 1200
	mood := 7
	return &therapy.Session{
		ID:              "sess-1",
		UserID:          "user-1",
		StartTime:       start,
		EndTime:         &end,
		DurationSeconds: &dur,
		Emotional:       therapy.EmotionalState{InitialMood: 4, FinalMood: &mood},
		Transcript: therapy.EncryptedTranscript{
			Algorithm:  "aes256gcm",
			KeyVersion: 1,
			Data:       "b3BhcXVlLWVudmVsb3Bl",
		},
		Theme: "calming",
	}
}

func TestExportLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := archive.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	a := archive.NewArchiver(store)

	sess := completedSession()
	if err := a.Export(ctx, sess); err != nil {
		t.Fatalf("Export: %v", err)
	}

	got, err := a.Load(ctx, sess.UserID, sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != sess.ID || got.Transcript.Data != sess.Transcript.Data {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.Completed() {
		t.Fatal("loaded session lost completion fields")
	}
}

func TestExportRejectsOpenSession(t *testing.T) {
	store, err := archive.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	a := archive.NewArchiver(store)

	sess := completedSession()
	sess.EndTime = nil
	if err := a.Export(context.Background(), sess); err == nil {
		t.Fatal("expected error exporting an open session")
	}
}

func TestLoadMissing(t *testing.T) {
	store, err := archive.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	a := archive.NewArchiver(store)

	if _, err := a.Load(context.Background(), "user-1", "nope"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := archive.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	a := archive.NewArchiver(store)

	sess := completedSession()
	if err := a.Export(ctx, sess); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := a.Remove(ctx, sess.UserID, sess.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := a.Remove(ctx, sess.UserID, sess.ID); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if _, err := a.Load(ctx, sess.UserID, sess.ID); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist after remove, got %v", err)
	}
}

// fakeS3 keeps uploaded objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &notFoundError{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type notFoundError struct{}

func (e *notFoundError) Error() string     { return "NoSuchKey" }
func (e *notFoundError) ErrorCode() string { return "NoSuchKey" }
func (e *notFoundError) ErrorMessage() string {
	return "the specified key does not exist"
}
func (e *notFoundError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestS3StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	a := archive.NewArchiver(archive.NewS3(fake, "sona-archive", "prod"))

	sess := completedSession()
	if err := a.Export(ctx, sess); err != nil {
		t.Fatalf("Export: %v", err)
	}

	// The object lands under the configured prefix.
	fake.mu.Lock()
	_, ok := fake.objects["prod/users/user-1/sessions/sess-1.json"]
	fake.mu.Unlock()
	if !ok {
		t.Fatalf("object key not found, have %v", keys(fake))
	}

	got, err := a.Load(ctx, sess.UserID, sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Theme != "calming" {
		t.Fatalf("Theme = %q", got.Theme)
	}

	if err := a.Remove(ctx, sess.UserID, sess.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := a.Load(ctx, sess.UserID, sess.ID); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist after remove, got %v", err)
	}
}

func keys(f *fakeS3) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}
