// Package testutil provides shared test helpers for wiring databases,
// attachment stores and services.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/kangrianai89/catatan/internal/blob"
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/entity"
	"github.com/kangrianai89/catatan/internal/entityservice"
)

// TestDB creates a temporary entity database that is automatically cleaned up.
func TestDB(t *testing.T) *entity.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "catatan-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := entity.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBlobs creates a temporary attachment directory served under
// /attachments.
func TestBlobs(t *testing.T) *blob.FS {
	t.Helper()
	store, err := blob.NewFS(t.TempDir(), "/attachments")
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// TestService wires an entity service over a temporary database and
// attachment directory.
func TestService(t *testing.T) (*entityservice.Service, *entity.DB, *blob.FS) {
	t.Helper()
	db := TestDB(t)
	blobs := TestBlobs(t)
	return entityservice.New(db, blobs, draft.DefaultRegistry(), nil), db, blobs
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

// PNG is a minimal payload detected as image/png.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
