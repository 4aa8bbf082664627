package db

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/uploadwaf/internal/telemetry"
	"github.com/solatis/uploadwaf/internal/types"
)

func openMigrated(t *testing.T) (*sqlx.DB, *Queries) {
	t.Helper()
	database, err := Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := MigrateUp(database); err != nil {
		t.Fatalf("MigrateUp() error = %v, want nil", err)
	}
	queries, err := LoadQueries(database)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v, want nil", err)
	}
	return database, queries
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	if _, err := Open("mysql://localhost/db"); err == nil {
		t.Fatal("Open(mysql://) error = nil, want error")
	}
}

func TestDataSourceFor(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantPrefix string
		wantErr    bool
	}{
		{"sqlite://data/uw.db", "sqlite3", "file:data/uw.db?", false},
		{"sqlite:///var/lib/uw.db", "sqlite3", "file:/var/lib/uw.db?", false},
		{"postgres://u:p@db:5432/uw?sslmode=disable", "postgres", "postgres://u:p@db:5432/uw", false},
		{"postgresql://db/uw", "postgres", "postgresql://db/uw", false},
		{"sqlite://", "", "", true},
		{"mysql://localhost/db", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, err := dataSourceFor(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("dataSourceFor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if driver != tt.wantDriver {
				t.Errorf("driver = %q, want %q", driver, tt.wantDriver)
			}
			if !strings.HasPrefix(dsn, tt.wantPrefix) {
				t.Errorf("dsn = %q, want prefix %q", dsn, tt.wantPrefix)
			}
			if driver == "sqlite3" && !strings.Contains(dsn, "_busy_timeout=5000") {
				t.Errorf("dsn = %q, want busy timeout", dsn)
			}
		})
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	database, _ := openMigrated(t)

	if err := MigrateUp(database); err != nil {
		t.Fatalf("second MigrateUp() error = %v, want nil", err)
	}

	statuses, err := MigrateStatus(database)
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v, want nil", err)
	}
	if len(statuses) == 0 {
		t.Fatal("MigrateStatus() returned no migrations")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.ID)
		}
		if s.AppliedAt == nil {
			t.Errorf("migration %s has no applied_at", s.ID)
		}
	}
}

func TestMigrateUp_DetectsTamperedChecksum(t *testing.T) {
	database, _ := openMigrated(t)

	if _, err := database.Exec("UPDATE migrations SET checksum = 'bogus'"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	err := MigrateUp(database)
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("MigrateUp() error = %v, want checksum mismatch", err)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `-- leading comment
CREATE TABLE a (x TEXT);
  -- indented comment
CREATE TABLE b (y TEXT);
`
	got := splitStatements(sql)
	if len(got) != 2 {
		t.Fatalf("splitStatements() = %q, want 2 statements", got)
	}
	if !strings.HasPrefix(got[0], "CREATE TABLE a") {
		t.Errorf("splitStatements()[0] = %q, want CREATE TABLE a", got[0])
	}
}

func TestSampleRepository(t *testing.T) {
	_, queries := openMigrated(t)
	repo := NewSampleRepository(queries)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := []types.SampledRequest{
		{SampleID: "s1", PolicyID: "p1", Rule: "BlockMultipartOutsideAllowedPaths", Action: types.ActionBlock, Method: "POST", URIPath: "/profile", RecordedAt: base},
		{SampleID: "s2", PolicyID: "p1", Rule: types.DefaultRuleName, Action: types.ActionAllow, Method: "GET", URIPath: "/", RecordedAt: base.Add(time.Second)},
		{SampleID: "s3", PolicyID: "p2", Rule: types.DefaultRuleName, Action: types.ActionAllow, Method: "POST", URIPath: "/upload", RecordedAt: base.Add(2 * time.Second)},
	}
	for _, s := range samples {
		if err := repo.InsertSample(ctx, s); err != nil {
			t.Fatalf("InsertSample(%s) error = %v", s.SampleID, err)
		}
	}

	all, err := repo.ListSamples(ctx, telemetry.SampleFilter{})
	if err != nil {
		t.Fatalf("ListSamples() error = %v", err)
	}
	if len(all) != 3 || all[0].SampleID != "s3" {
		t.Fatalf("ListSamples() = %+v, want 3 samples newest first", all)
	}
	if !all[2].RecordedAt.Equal(base) || all[2].Action != types.ActionBlock {
		t.Errorf("oldest sample = %+v, want BLOCK at %v", all[2], base)
	}

	byPolicy, err := repo.ListSamples(ctx, telemetry.SampleFilter{PolicyID: "p1"})
	if err != nil {
		t.Fatalf("ListSamples(p1) error = %v", err)
	}
	if len(byPolicy) != 2 {
		t.Errorf("ListSamples(p1) returned %d, want 2", len(byPolicy))
	}

	byRule, err := repo.ListSamples(ctx, telemetry.SampleFilter{Rule: types.DefaultRuleName, Limit: 1})
	if err != nil {
		t.Fatalf("ListSamples(DEFAULT) error = %v", err)
	}
	if len(byRule) != 1 || byRule[0].SampleID != "s3" {
		t.Errorf("ListSamples(DEFAULT, limit 1) = %+v, want [s3]", byRule)
	}

	n, err := repo.PruneSamples(ctx, base.Add(1500*time.Millisecond))
	if err != nil {
		t.Fatalf("PruneSamples() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PruneSamples() = %d, want 2", n)
	}
}

func TestKeyRepository(t *testing.T) {
	_, queries := openMigrated(t)
	repo := NewKeyRepository(queries)
	ctx := context.Background()

	if err := repo.InsertKey(ctx, "k1", "ci", "0123456789abcdef0123456789abcdef", []byte{1, 2, 3}); err != nil {
		t.Fatalf("InsertKey() error = %v", err)
	}
	if err := repo.InsertKey(ctx, "k2", "dup", "0123456789abcdef0123456789abcdef", []byte{1, 2, 3}); err == nil {
		t.Errorf("InsertKey(duplicate hash) error = nil, want unique violation")
	}

	if err := repo.RevokeKey(ctx, "k1"); err != nil {
		t.Fatalf("RevokeKey() error = %v", err)
	}
	if err := repo.RevokeKey(ctx, "k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("RevokeKey(again) error = %v, want ErrKeyNotFound", err)
	}

	keys, err := repo.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	if len(keys) != 1 || keys[0].Name != "ci" || !keys[0].RevokedAt.Valid {
		t.Errorf("ListKeys() = %+v, want one revoked key named ci", keys)
	}
}
