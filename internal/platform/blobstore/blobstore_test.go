package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestRecordKey(t *testing.T) {
	key, err := RecordKey("acct-1", "blood panel.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(key, "records/acct-1/") {
		t.Errorf("unexpected prefix: %s", key)
	}
	if !strings.HasSuffix(key, "-blood panel.pdf") {
		t.Errorf("unexpected suffix: %s", key)
	}
}

func TestRecordKey_StripsDirectories(t *testing.T) {
	key, err := RecordKey("acct-1", "../../etc/passwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(key, "..") {
		t.Errorf("expected traversal to be stripped, got %s", key)
	}
	if !strings.HasSuffix(key, "-passwd") {
		t.Errorf("unexpected key: %s", key)
	}
}

func TestRecordKey_MissingName(t *testing.T) {
	for _, name := range []string{"", "   ", "/"} {
		if _, err := RecordKey("acct-1", name); !errors.Is(err, ErrMissingFileName) {
			t.Errorf("RecordKey(%q): expected ErrMissingFileName, got %v", name, err)
		}
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"application/pdf", false},
		{"image/png", false},
		{"text/plain; charset=utf-8", false},
		{"IMAGE/JPEG", false},
		{"application/x-msdownload", true},
		{"", true},
	}
	for _, tt := range tests {
		err := ValidateContentType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateContentType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidContentType) {
			t.Errorf("expected ErrInvalidContentType, got %v", err)
		}
	}
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	obj, err := store.Put(ctx, "records/a/1-x.txt", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Size != 5 {
		t.Errorf("expected size 5, got %d", obj.Size)
	}
	// sha256("hello")
	if obj.SHA256 != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("unexpected hash %s", obj.SHA256)
	}

	rc, got, err := store.Get(ctx, "records/a/1-x.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "hello" {
		t.Errorf("expected hello, got %q", body)
	}
	if got.ContentType != "text/plain" {
		t.Errorf("unexpected content type %s", got.ContentType)
	}

	if err := store.Delete(ctx, "records/a/1-x.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Get(ctx, "records/a/1-x.txt"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "records/a/1-x.txt"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}

func TestMemoryStore_Put_FileTooLarge(t *testing.T) {
	store := NewMemoryStore()
	big := io.LimitReader(zeroReader{}, MaxFileSize+10)
	if _, err := store.Put(context.Background(), "k", "application/pdf", big); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestMemoryStore_Put_RejectsContentType(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Put(context.Background(), "k", "application/zip", strings.NewReader("x")); !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, _ := RecordKey("acct", "f.txt")
			if _, err := store.Put(ctx, key, "text/plain", strings.NewReader("data")); err != nil {
				t.Errorf("Put: %v", err)
				return
			}
			if _, _, err := store.Get(ctx, key); err != nil {
				t.Errorf("Get: %v", err)
			}
		}(i)
	}
	wg.Wait()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
