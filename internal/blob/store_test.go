package blob_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"datec-go/internal/blob"
	"datec-go/internal/config"
	"datec-go/internal/datec"
	"datec-go/internal/encryption"
)

var uploadedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleMeta(size int) datec.BlobMeta {
	return datec.BlobMeta{
		Type:       datec.BlobDatasetFile,
		OwnerID:    "user-1",
		DatasetID:  "ds_alice_001",
		FileIndex:  1,
		ClonedFrom: "ds_bob_003",
		Filename:   "données.csv",
		MimeType:   "text/csv",
		Size:       int64(size),
		UploadedAt: uploadedAt,
	}
}

func sameMeta(a, b datec.BlobMeta) bool {
	ta, tb := a.UploadedAt, b.UploadedAt
	a.UploadedAt, b.UploadedAt = time.Time{}, time.Time{}
	return a == b && ta.Equal(tb)
}

// testStoreContract checks the behavior every BlobStore must share.
func testStoreContract(t *testing.T, store datec.BlobStore) {
	t.Helper()
	ctx := context.Background()
	content := []byte("a,b\n1,2\n")

	t.Run("absent blob", func(t *testing.T) {
		meta, err := store.Stat(ctx, "missing")
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if meta != nil {
			t.Errorf("Stat() = %+v, want nil", meta)
		}
		var buf bytes.Buffer
		if _, err := store.Get(ctx, "missing", &buf); !errors.Is(err, datec.ErrBlobNotFound) {
			t.Errorf("Get() error = %v, want ErrBlobNotFound", err)
		}
		if err := store.Delete(ctx, "missing"); err != nil {
			t.Errorf("Delete() of absent blob error = %v", err)
		}
	})

	t.Run("put get stat delete", func(t *testing.T) {
		id := "file_ds_alice_001_001"
		if err := store.Put(ctx, id, bytes.NewReader(content), sampleMeta(len(content))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		var buf bytes.Buffer
		meta, err := store.Get(ctx, id, &buf)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !bytes.Equal(buf.Bytes(), content) {
			t.Errorf("Get() content = %q, want %q", buf.Bytes(), content)
		}
		if want := sampleMeta(len(content)); !sameMeta(*meta, want) {
			t.Errorf("Get() meta = %+v, want %+v", *meta, want)
		}

		stat, err := store.Stat(ctx, id)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if stat == nil || stat.Size != int64(len(content)) {
			t.Errorf("Stat() = %+v, want size %d", stat, len(content))
		}

		if err := store.Delete(ctx, id); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if stat, _ := store.Stat(ctx, id); stat != nil {
			t.Errorf("Stat() after Delete = %+v, want nil", stat)
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		id := "photo_ds_alice_001_header"
		for _, data := range []string{"first", "second version"} {
			meta := sampleMeta(len(data))
			meta.Type = datec.BlobHeaderPhoto
			if err := store.Put(ctx, id, strings.NewReader(data), meta); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}
		var buf bytes.Buffer
		if _, err := store.Get(ctx, id, &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "second version" {
			t.Errorf("Get() = %q, want %q", buf.String(), "second version")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	testStoreContract(t, blob.NewMemoryStore())
}

func TestFileSystemStore(t *testing.T) {
	t.Parallel()

	store, err := blob.NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	if err := store.ValidateSetup(); err != nil {
		t.Fatalf("ValidateSetup() error = %v", err)
	}
	testStoreContract(t, store)

	t.Run("rejects path ids", func(t *testing.T) {
		for _, id := range []string{"", "..", "a/b", `a\b`} {
			if err := store.Put(context.Background(), id, strings.NewReader("x"), datec.BlobMeta{}); err == nil {
				t.Errorf("Put(%q) should return error", id)
			}
		}
	})
}

func TestFileSystemStore_Persists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	first, err := blob.NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	if err := first.Put(ctx, "avatar_u1", strings.NewReader("png"), datec.BlobMeta{Type: datec.BlobUserAvatar}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second, err := blob.NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	meta, err := second.Stat(ctx, "avatar_u1")
	if err != nil || meta == nil {
		t.Fatalf("Stat() = %v, %v, want metadata", meta, err)
	}
	if meta.Type != datec.BlobUserAvatar {
		t.Errorf("Type = %q, want %q", meta.Type, datec.BlobUserAvatar)
	}
}

func TestEncryptedStore_TestKeyring(t *testing.T) {
	t.Parallel()

	inner := blob.NewMemoryStore()
	k := encryption.NewTestKeyring()
	id, _ := k.Unlock("")
	store := blob.NewEncryptedStore(inner, k, id)
	testStoreContract(t, store)

	ctx := context.Background()
	if err := store.Put(ctx, "file_x_001", strings.NewReader("plain"), datec.BlobMeta{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	raw, ok := inner.Raw("file_x_001")
	if !ok {
		t.Fatal("inner store has no blob")
	}
	if string(raw) == "plain" {
		t.Error("inner store holds plaintext")
	}
}

func TestEncryptedStore_Age(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	k := encryption.NewAgeKeyring(filepath.Join(dir, "datec.pub"), filepath.Join(dir, "datec.key"))
	if err := k.Setup("pw"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	id, err := k.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	inner := blob.NewMemoryStore()
	testStoreContract(t, blob.NewEncryptedStore(inner, k, id))

	t.Run("large content", func(t *testing.T) {
		ctx := context.Background()
		store := blob.NewEncryptedStore(inner, k, id)
		content := bytes.Repeat([]byte("0123456789"), 100_000)
		if err := store.Put(ctx, "big", bytes.NewReader(content), datec.BlobMeta{Size: int64(len(content))}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		var buf bytes.Buffer
		if _, err := store.Get(ctx, "big", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !bytes.Equal(buf.Bytes(), content) {
			t.Errorf("Get() returned %d bytes, want %d", buf.Len(), len(content))
		}
	})
}

func TestEncryptedStore_Locked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := blob.NewEncryptedStore(blob.NewMemoryStore(), encryption.NewTestKeyring(), nil)
	if err := store.Put(ctx, "a", strings.NewReader("x"), datec.BlobMeta{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	var buf bytes.Buffer
	if _, err := store.Get(ctx, "a", &buf); !errors.Is(err, blob.ErrLocked) {
		t.Errorf("Get() error = %v, want ErrLocked", err)
	}
	if meta, err := store.Stat(ctx, "a"); err != nil || meta == nil {
		t.Errorf("Stat() = %v, %v, want metadata while locked", meta, err)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := encryption.NewTestKeyring()

	tests := []struct {
		name    string
		cfg     config.BlobConfig
		opts    blob.Options
		wantErr bool
	}{
		{name: "memory", cfg: config.BlobConfig{Type: "memory"}},
		{name: "filesystem", cfg: config.BlobConfig{Type: "filesystem", Root: t.TempDir()}},
		{name: "filesystem without root", cfg: config.BlobConfig{Type: "filesystem"}, wantErr: true},
		{name: "s3 without bucket", cfg: config.BlobConfig{Type: "s3"}, wantErr: true},
		{name: "encrypted", cfg: config.BlobConfig{Type: "memory", Encrypt: true}, opts: blob.Options{Encrypter: k}},
		{name: "encrypted without encrypter", cfg: config.BlobConfig{Type: "memory", Encrypt: true}, wantErr: true},
		{name: "unknown", cfg: config.BlobConfig{Type: "tape"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := blob.NewStoreFromConfig(ctx, tt.cfg, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			_, encrypted := store.(*blob.EncryptedStore)
			if encrypted != tt.cfg.Encrypt {
				t.Errorf("store type = %T, encrypted = %v", store, tt.cfg.Encrypt)
			}
		})
	}
}
