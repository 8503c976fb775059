package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datec-go/internal/config"
	"datec-go/internal/datec"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Blob = config.BlobConfig{Type: "memory"}
	cfg.Graph = config.GraphConfig{Type: "memory"}
	cfg.Ephemeral = config.EphemeralConfig{Type: "memory"}
	return cfg
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestNewDatecApp(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)

	a, err := NewDatecApp(ctx, cfg, "dataset create", []string{"weather"}, Options{})
	if err != nil {
		t.Fatalf("NewDatecApp() error = %v", err)
	}

	if _, err := a.Service().Users.Register(ctx, datec.RegisterInput{Username: "alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	alice, err := a.Identity(ctx, "alice")
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if alice.Username != "alice" || alice.IsAdmin {
		t.Errorf("Identity() = %+v", alice)
	}

	dir := t.TempDir()
	d, err := a.CreateDataset(ctx, alice, DatasetRequest{
		Name:        "weather",
		Description: "daily weather readings",
		FilePaths:   []string{writeFile(t, dir, "a.csv", "1,2\n")},
	})
	if err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if len(d.Files) != 1 || d.Files[0].Filename != "a.csv" {
		t.Errorf("CreateDataset() files = %+v", d.Files)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	prom, err := os.ReadFile(cfg.Metrics.TextfilePath)
	if err != nil {
		t.Fatalf("reading metrics textfile: %v", err)
	}
	if !strings.Contains(string(prom), `datec_saga_steps_total{outcome="ok",saga="dataset.create",step="insert-metadata"} 1`) {
		t.Errorf("metrics textfile missing create steps:\n%s", prom)
	}

	log, err := os.ReadFile(filepath.Join(cfg.LogDir, "datec.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(log), "\toperation finished\toperation=\"dataset create\"") {
		t.Errorf("log file missing operation line:\n%s", log)
	}
}

func TestDatecApp_Identity(t *testing.T) {
	ctx := context.Background()
	a, err := NewDatecApp(ctx, memoryConfig(t), "whoami", nil, Options{})
	if err != nil {
		t.Fatalf("NewDatecApp() error = %v", err)
	}
	defer a.Close()

	anon, err := a.Identity(ctx, "")
	if err != nil || anon != nil {
		t.Errorf("Identity(\"\") = %+v, %v, want anonymous", anon, err)
	}
	_, err = a.Identity(ctx, "nobody")
	if !datec.IsKind(err, datec.KindNotFound) {
		t.Errorf("Identity(nobody) error = %v, want NotFound", err)
	}
}

func TestDatecApp_GrantAdmin(t *testing.T) {
	ctx := context.Background()
	a, err := NewDatecApp(ctx, memoryConfig(t), "user grant-admin", nil, Options{})
	if err != nil {
		t.Fatalf("NewDatecApp() error = %v", err)
	}
	defer a.Close()

	a.Service().Users.Register(ctx, datec.RegisterInput{Username: "root", Email: "root@example.com"})
	u, err := a.GrantAdmin(ctx, "root")
	if err != nil {
		t.Fatalf("GrantAdmin() error = %v", err)
	}
	if !u.IsAdmin {
		t.Error("GrantAdmin() did not grant")
	}
	id, _ := a.Identity(ctx, "root")
	if id == nil || !id.IsAdmin {
		t.Errorf("Identity(root) = %+v, want admin", id)
	}
}

func TestDatecApp_EncryptedBlobs(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key pair", func(t *testing.T) {
		cfg := memoryConfig(t)
		cfg.Blob.Encrypt = true
		_, err := NewDatecApp(ctx, cfg, "dataset get", nil, Options{})
		if err == nil || !strings.Contains(err.Error(), "keys init") {
			t.Fatalf("NewDatecApp() error = %v, want a hint to run keys init", err)
		}
	})

	t.Run("round trip with unlocked key", func(t *testing.T) {
		cfg := memoryConfig(t)
		cfg.Blob.Encrypt = true
		cfg.Encryption = config.EncryptionConfig{Type: "test"}

		a, err := NewDatecApp(ctx, cfg, "dataset download", nil, Options{Passphrase: "secret"})
		if err != nil {
			t.Fatalf("NewDatecApp() error = %v", err)
		}
		defer a.Close()

		a.Service().Users.Register(ctx, datec.RegisterInput{Username: "alice", Email: "alice@example.com"})
		alice, _ := a.Identity(ctx, "alice")
		d, err := a.CreateDataset(ctx, alice, DatasetRequest{
			Name:        "weather",
			Description: "daily weather readings",
			FilePaths:   []string{writeFile(t, t.TempDir(), "a.csv", "1,2")},
		})
		if err != nil {
			t.Fatalf("CreateDataset() error = %v", err)
		}

		var buf bytes.Buffer
		if _, err := a.Service().Datasets.DownloadFile(ctx, alice, d.ID, 1, &buf); err != nil {
			t.Fatalf("DownloadFile() error = %v", err)
		}
		if buf.String() != "1,2" {
			t.Errorf("DownloadFile() = %q, want %q", buf.String(), "1,2")
		}
	})
}

func TestNewDatecApp_InvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Graph.Type = "neo4j"
	if _, err := NewDatecApp(context.Background(), cfg, "history", nil, Options{}); err == nil {
		t.Fatal("NewDatecApp() error = nil, want invalid config")
	}
}
