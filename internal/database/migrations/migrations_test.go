package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	tables := []string{"users", "datasets", "comments", "votes", "messages", "saga_runs", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheck(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := Check(db)
		if err == nil {
			t.Fatal("Check() error = nil, want error for fresh database")
		}
		if !strings.Contains(err.Error(), "needs migration") {
			t.Errorf("Check() error = %q, want mention of migration", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if err := Up(db); err != nil {
			t.Fatalf("Up() error = %v", err)
		}
		if err := Check(db); err != nil {
			t.Errorf("Check() error = %v", err)
		}

		st, err := ReadStatus(db)
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		if !st.Current() {
			t.Errorf("ReadStatus() = %+v, want current", st)
		}
	})
}

func TestUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("first Up() error = %v", err)
	}
	if err := Up(db); err != nil {
		t.Errorf("second Up() error = %v", err)
	}
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	insertUser := `INSERT INTO users (id, username, email, created_at, updated_at) VALUES (?, ?, ?, datetime('now'), datetime('now'))`
	if _, err := db.Exec(insertUser, "u1", "alice", "alice@example.com"); err != nil {
		t.Fatalf("inserting user: %v", err)
	}

	t.Run("username is unique regardless of case", func(t *testing.T) {
		if _, err := db.Exec(insertUser, "u2", "ALICE", "other@example.com"); err == nil {
			t.Error("expected unique violation for username, insert succeeded")
		}
	})

	insertDataset := `INSERT INTO datasets (id, owner_id, name, description, status, is_public, created_at, updated_at)
		VALUES (?, ?, ?, 'a description', ?, ?, datetime('now'), datetime('now'))`

	t.Run("dataset owner must exist", func(t *testing.T) {
		if _, err := db.Exec(insertDataset, "d0", "nobody", "name", "pending", 0); err == nil {
			t.Error("expected foreign key violation, insert succeeded")
		}
	})

	t.Run("public requires approved", func(t *testing.T) {
		if _, err := db.Exec(insertDataset, "d1", "u1", "name", "pending", 1); err == nil {
			t.Error("expected check violation for public pending dataset, insert succeeded")
		}
	})

	t.Run("name is unique per owner", func(t *testing.T) {
		if _, err := db.Exec(insertDataset, "d2", "u1", "same", "pending", 0); err != nil {
			t.Fatalf("inserting dataset: %v", err)
		}
		if _, err := db.Exec(insertDataset, "d3", "u1", "same", "pending", 0); err == nil {
			t.Error("expected unique violation for (owner, name), insert succeeded")
		}
	})

	t.Run("rating is bounded", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO votes (id, dataset_id, voter_id, rating, created_at, updated_at)
			VALUES ('v1', 'd2', 'u9', 6, datetime('now'), datetime('now'))`)
		if err == nil {
			t.Error("expected check violation for rating 6, insert succeeded")
		}
	})
}

// openTestDB opens an in-memory SQLite database with foreign keys enabled.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
