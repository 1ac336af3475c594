package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSQLiteFilePath(t *testing.T) {
	cases := []struct {
		dsn    string
		want   string
		onDisk bool
	}{
		{dsn: ":memory:", onDisk: false},
		{dsn: "file::memory:?cache=shared", onDisk: false},
		{dsn: "file:test.db?mode=memory", onDisk: false},
		{dsn: "data/healthintel.db?_pragma=busy_timeout(5000)", want: "data/healthintel.db", onDisk: true},
		{dsn: "file:data/sessions.db?cache=shared", want: "data/sessions.db", onDisk: true},
		{dsn: "file:///var/lib/healthintel/sessions.db", want: "/var/lib/healthintel/sessions.db", onDisk: true},
	}

	for _, tc := range cases {
		got, ok := sqliteFilePath(tc.dsn)
		if ok != tc.onDisk || got != tc.want {
			t.Fatalf("sqliteFilePath(%q) = (%q, %v), want (%q, %v)", tc.dsn, got, ok, tc.want, tc.onDisk)
		}
	}
}

func TestOpenGormSQLiteCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "healthintel.db")
	gormDB, err := OpenGorm("SQLite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(dsn)); err != nil {
		t.Fatalf("expected sqlite directory to exist: %v", err)
	}
}

func TestOpenGormRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenGorm("mysql", "user@/db"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := OpenGorm("postgres", ""); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestNormalizeDriver(t *testing.T) {
	if got := NormalizeDriver(""); got != DriverSQLite {
		t.Fatalf("expected sqlite default, got %q", got)
	}
	if got := NormalizeDriver(" MEMORY "); got != DriverMemory {
		t.Fatalf("expected memory, got %q", got)
	}
}
