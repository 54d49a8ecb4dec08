package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileTokenStoreAbsentFile(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "token.json"))

	data, ok, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if ok || data != nil {
		t.Fatalf("expected absent file to report no token, got ok=%v data=%q", ok, data)
	}
}

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewFileTokenStore(path)

	payload := []byte(`{"access_token":"abc123","expires_in":3600}`)
	if err := store.Write(context.Background(), payload); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	data, ok, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected token present after write")
	}
	if string(data) != string(payload) {
		t.Fatalf("expected payload round-tripped, got %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
}

func TestFileTokenStoreCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "token.json")
	store := NewFileTokenStore(path)

	if err := store.Write(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected token file created, got %v", err)
	}
}

func TestFileTokenStoreEmptyFileIsNoToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("seed empty file: %v", err)
	}

	_, ok, err := NewFileTokenStore(path).Read(context.Background())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if ok {
		t.Fatal("expected empty file to report no token")
	}
}

func TestFileTokenStoreWithoutPath(t *testing.T) {
	store := NewFileTokenStore("  ")
	if _, ok, err := store.Read(context.Background()); err != nil || ok {
		t.Fatalf("expected path-less read to report no token, got ok=%v err=%v", ok, err)
	}
	if err := store.Write(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected path-less write to error")
	}
}

func TestMemoryTokenStoreRoundTrip(t *testing.T) {
	store := NewMemoryTokenStore()

	if _, ok, err := store.Read(context.Background()); err != nil || ok {
		t.Fatalf("expected fresh store to be empty, got ok=%v err=%v", ok, err)
	}

	if err := store.Write(context.Background(), []byte(`{"access_token":"abc"}`)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	data, ok, err := store.Read(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected token present, got ok=%v err=%v", ok, err)
	}
	if string(data) != `{"access_token":"abc"}` {
		t.Fatalf("unexpected payload %q", data)
	}
}
