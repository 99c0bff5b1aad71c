package compact

import (
	"os"
	"path/filepath"
	"testing"

	"typedtables/record"
	"typedtables/storage"
)

func TestArchiveThenRestoreRoundTrips(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "src")
	mgr := buildPetPersonDB(t, srcDir)
	idx, err := mgr.InsertComposite("Pet", record.Value{"name": "Biscuit"})
	if err != nil {
		t.Fatalf("InsertComposite: %v", err)
	}
	if err := mgr.SaveMetadata(); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "snapshot.ttar")
	if err := Archive(srcDir, archivePath, false, storage.DefaultOptions(), nil); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if info, err := os.Stat(archivePath); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty archive file, stat err=%v", err)
	}

	restoreDir := filepath.Join(t.TempDir(), "restored")
	if err := Restore(archivePath, restoreDir); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(restoreDir, "_metadata.json")); err != nil {
		t.Fatalf("expected _metadata.json in restored directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(restoreDir, "Pet.bin")); err != nil {
		t.Fatalf("expected Pet.bin in restored directory: %v", err)
	}
	_ = idx
}

func TestArchiveGzipWrappedRoundTrips(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "src")
	mgr := buildPetPersonDB(t, srcDir)
	mgr.Close()

	archivePath := filepath.Join(t.TempDir(), "snapshot.ttar.gz")
	if err := Archive(srcDir, archivePath, true, storage.DefaultOptions(), nil); err != nil {
		t.Fatalf("Archive (gzip): %v", err)
	}

	restoreDir := filepath.Join(t.TempDir(), "restored-gz")
	if err := Restore(archivePath, restoreDir); err != nil {
		t.Fatalf("Restore (gzip): %v", err)
	}
	if _, err := os.Stat(filepath.Join(restoreDir, "_metadata.json")); err != nil {
		t.Fatalf("expected _metadata.json in gzip-restored directory: %v", err)
	}
}

func TestRestoreRefusesExistingDestination(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "src")
	mgr := buildPetPersonDB(t, srcDir)
	mgr.Close()

	archivePath := filepath.Join(t.TempDir(), "snapshot.ttar")
	if err := Archive(srcDir, archivePath, false, storage.DefaultOptions(), nil); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	restoreDir := filepath.Join(t.TempDir(), "restored")
	if err := os.MkdirAll(restoreDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := Restore(archivePath, restoreDir); err == nil {
		t.Fatal("expected Restore to refuse an already-existing destination directory")
	}
}
