package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"deployments", "deployed_facets", "steps"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSchema_StepsColumns(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "steps")
	for _, col := range []string{"id", "deployment_id", "step_name", "external_ref", "status", "description", "result", "updated_at"} {
		if !slices.Contains(columns, col) {
			t.Errorf("steps missing column %q, have %v", col, columns)
		}
	}
}

func TestConstraint_StepStatusCheck(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO steps (deployment_id, step_name, external_ref, status, description, result, updated_at)
		VALUES ('d', 'n', 'r', 'bogus', '', '{}', 0)
	`)
	if err == nil {
		t.Error("expected CHECK constraint failure for unknown status")
	}
}

func TestConstraint_FacetRequiresDeployment(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO deployed_facets
		(deployment_id, facet_name, address, tx_ref, version, priority, init_function, selectors, deploy_include, deploy_exclude)
		VALUES ('missing', 'A', '0x', '', 0, 0, '', '[]', '[]', '[]')
	`)
	if err == nil {
		t.Error("expected foreign key failure for facet without deployment")
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromOlderVersions(t *testing.T) {
	tests := []struct {
		name    string
		from    int
		dropped []string
	}{
		{"v0", 0, []string{"idx_steps_deployment", "idx_facets_priority"}},
		{"v1", 1, []string{"idx_facets_priority"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")

			db, err := sql.Open("sqlite3", path)
			if err != nil {
				t.Fatalf("failed to open database: %v", err)
			}
			if _, err := db.Exec(schemaSQL); err != nil {
				t.Fatalf("failed to apply schema: %v", err)
			}
			for _, idx := range tt.dropped {
				if _, err := db.Exec("DROP INDEX " + idx); err != nil {
					t.Fatalf("failed to drop %s: %v", idx, err)
				}
			}
			if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", tt.from)); err != nil {
				t.Fatalf("failed to set user_version: %v", err)
			}
			db.Close()

			s, err := Open(path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer s.Close()

			var version int
			if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
				t.Fatalf("failed to get user_version: %v", err)
			}
			if version != currentSchemaVersion {
				t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
			}
			if indexes := getTableIndexes(t, s.db, "steps"); !slices.Contains(indexes, "idx_steps_deployment") {
				t.Errorf("missing idx_steps_deployment after migration, got %v", indexes)
			}
			if indexes := getTableIndexes(t, s.db, "deployed_facets"); !slices.Contains(indexes, "idx_facets_priority") {
				t.Errorf("missing idx_facets_priority after migration, got %v", indexes)
			}
		})
	}
}

func TestMigration_AddsCutSequenceToLegacyDeployments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE deployments (
			deployment_id     TEXT PRIMARY KEY,
			diamond_address   TEXT NOT NULL,
			deployer_address  TEXT NOT NULL,
			protocol_version  INTEGER NOT NULL,
			schema_version    TEXT NOT NULL,
			updated_at        INTEGER NOT NULL
		);
		INSERT INTO deployments VALUES ('core:local:31337', '0xd1', '0xe1', 2, '1', 0);
		PRAGMA user_version = 2;
	`); err != nil {
		t.Fatalf("failed to create legacy schema: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if columns := getTableColumns(t, s.db, "deployments"); !slices.Contains(columns, "cut_sequence") {
		t.Fatalf("deployments missing cut_sequence after migration, have %v", columns)
	}
	if columns := getTableColumns(t, s.db, "backend_state"); !slices.Contains(columns, "state") {
		t.Errorf("backend_state missing after migration, have %v", columns)
	}
	data, found, err := s.LoadDeployedDiamondData(context.Background(), "core:local:31337")
	if err != nil {
		t.Fatalf("LoadDeployedDiamondData() failed: %v", err)
	}
	if !found || data.ProtocolVersion != 2 || data.CutSequence != 0 {
		t.Errorf("legacy row = %+v (found %t), want protocol 2 and cut sequence 0", data, found)
	}
}

func TestMigration_VersionsAscend(t *testing.T) {
	for i, m := range migrations {
		if m.version != i+1 {
			t.Errorf("migrations[%d].version = %d, want %d", i, m.version, i+1)
		}
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
