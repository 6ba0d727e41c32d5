package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/camwatch/camwatch/internal/logger"
)

func TestNewStore_MissingFileSeedsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	store, err := NewStore(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	creds := store.Get()
	if creds.Username != "admin" || creds.Password != "123456" || !creds.HalfResolution {
		t.Errorf("Expected defaults {admin 123456 true}, got %+v", creds)
	}

	// Defaults must have been written to disk
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Defaults should be persisted: %v", err)
	}

	var onDisk map[string]interface{}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("Persisted file should be valid JSON: %v", err)
	}
	for _, key := range []string{"username", "password", "half_resolution"} {
		if _, ok := onDisk[key]; !ok {
			t.Errorf("Persisted file missing key %q", key)
		}
	}
}

func TestNewStore_MalformedFileResets(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	store, err := NewStore(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	creds := store.Get()
	if creds.Username != "admin" {
		t.Errorf("Expected defaults after malformed file, got %+v", creds)
	}

	data, _ := os.ReadFile(path)
	var parsed Credentials
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Errorf("File should have been overwritten with valid JSON: %v", err)
	}
}

func TestStore_SetPersistsAndRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	store, err := NewStore(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	want := Credentials{Username: "root", Password: "", HalfResolution: false}
	if err := store.Set(want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if got := store.Get(); got != want {
		t.Errorf("Get after Set: expected %+v, got %+v", want, got)
	}

	// A fresh store sees exactly what was written, including the
	// empty password and half_resolution=false.
	reopened, err := NewStore(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if got := reopened.Get(); got != want {
		t.Errorf("Round trip: expected %+v, got %+v", want, got)
	}
}

func TestStore_SetWritesBackup(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	store, err := NewStore(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read original: %v", err)
	}

	if err := store.Set(Credentials{Username: "root", Password: "x", HalfResolution: false}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	backup, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("Backup should exist after Set: %v", err)
	}
	if string(backup) != string(original) {
		t.Error("Backup should hold the previous file contents")
	}
}

func TestStore_PrettyPrintedOutput(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	store, err := NewStore(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := store.Set(Credentials{Username: "admin", Password: "123456", HalfResolution: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "\n  \"username\"") {
		t.Errorf("Expected two-space indented JSON, got:\n%s", content)
	}
}
