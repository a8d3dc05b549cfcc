package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(":memory:", logger.Silent, 0)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	if err := SeedDefaults(db); err != nil {
		t.Fatalf("failed to seed test database: %v", err)
	}
	return db
}

func TestAllocateKeys(t *testing.T) {
	db := setupTestDB(t)
	table := FactDetail{}.TableName()

	var first int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = AllocateKeys(tx, table, 3)
		return err
	})
	if err != nil {
		t.Fatalf("AllocateKeys() on empty table error = %v", err)
	}
	if first != 1 {
		t.Errorf("first key on empty table = %d, want 1", first)
	}

	for _, key := range []int64{4, 7} {
		if err := db.Create(&FactDetail{DetailKey: key, HeaderKey: 1}).Error; err != nil {
			t.Fatalf("failed to insert detail: %v", err)
		}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = AllocateKeys(tx, table, 2)
		return err
	})
	if err != nil {
		t.Fatalf("AllocateKeys() error = %v", err)
	}
	if first != 8 {
		t.Errorf("first key = %d, want 8", first)
	}
}

func TestAllocateKeys_InvalidArguments(t *testing.T) {
	db := setupTestDB(t)

	tests := []struct {
		name    string
		table   string
		n       int
		wantErr error
	}{
		{name: "zero keys", table: FactDetail{}.TableName(), n: 0, wantErr: ErrInvalidKeyCount},
		{name: "negative keys", table: FactHeader{}.TableName(), n: -2, wantErr: ErrInvalidKeyCount},
		{name: "unregistered table", table: "network_element", n: 1, wantErr: ErrUnknownKeyTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.Transaction(func(tx *gorm.DB) error {
				_, err := AllocateKeys(tx, tt.table, tt.n)
				return err
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AllocateKeys() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAllocateKeys_SequentialTransactionsDoNotOverlap(t *testing.T) {
	db := setupTestDB(t)
	table := FactHeader{}.TableName()
	seen := make(map[int64]bool)

	for round := 0; round < 5; round++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			first, err := AllocateKeys(tx, table, 4)
			if err != nil {
				return err
			}
			for i := int64(0); i < 4; i++ {
				key := first + i
				if seen[key] {
					return fmt.Errorf("key %d allocated twice", key)
				}
				seen[key] = true
				h := FactHeader{HeaderKey: key, ChannelKey: 1, IncidentID: key * 10}
				if err := tx.Create(&h).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
	}

	if len(seen) != 20 {
		t.Errorf("allocated %d distinct keys, want 20", len(seen))
	}
}

func TestAllocateKeys_BusyWhenLockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")

	holder, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=50"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open holder: %v", err)
	}
	if err := Migrate(holder); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	waiter, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=50"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open waiter: %v", err)
	}

	tx := holder.Begin()
	defer tx.Rollback()
	if err := LockKeyTable(tx, FactDetail{}.TableName()); err != nil {
		t.Fatalf("LockKeyTable() error = %v", err)
	}

	start := time.Now()
	err = waiter.Transaction(func(wtx *gorm.DB) error {
		_, err := AllocateKeys(wtx, FactDetail{}.TableName(), 1)
		return err
	})
	if !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("AllocateKeys() while locked error = %v, want ErrResourceBusy", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("busy wait took %v, expected to be bounded by the busy timeout", elapsed)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("syntax error"), want: false},
		{name: "sentinel", err: fmt.Errorf("wrapped: %w", ErrResourceBusy), want: true},
		{name: "pg lock not available", err: &pgconn.PgError{Code: "55P03"}, want: true},
		{name: "pg serialization failure", err: fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40001"}), want: true},
		{name: "pg deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "pg unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "sqlite busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, want: true},
		{name: "sqlite locked", err: sqlite3.Error{Code: sqlite3.ErrLocked}, want: true},
		{name: "sqlite constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint}, want: false},
		{name: "message only", err: errors.New("database is locked"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBusy(tt.err); got != tt.want {
				t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSeedDefaults_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := SeedDefaults(db); err != nil {
		t.Fatalf("second SeedDefaults() error = %v", err)
	}

	var types, chans int64
	db.Model(&NetworkElementType{}).Count(&types)
	db.Model(&Channel{}).Count(&chans)
	if types != 10 {
		t.Errorf("element types = %d, want 10", types)
	}
	if chans != 2 {
		t.Errorf("channels = %d, want 2", chans)
	}

	var cable NetworkElementType
	if err := db.First(&cable, ElementTypeCable).Error; err != nil {
		t.Fatalf("failed to load cable type: %v", err)
	}
	if cable.ParentTypeKey == nil || *cable.ParentTypeKey != ElementTypeCabin {
		t.Errorf("cable parent type = %v, want %d", cable.ParentTypeKey, ElementTypeCabin)
	}
}

func TestChannelLookup(t *testing.T) {
	tests := []struct {
		source  string
		wantKey int64
		wantOK  bool
	}{
		{"A", 1, true},
		{"a", 1, true},
		{" b ", 2, true},
		{"C", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		ch, ok := ChannelBySource(tt.source)
		if ok != tt.wantOK || ch.Key != tt.wantKey {
			t.Errorf("ChannelBySource(%q) = (%d, %v), want (%d, %v)", tt.source, ch.Key, ok, tt.wantKey, tt.wantOK)
		}
	}

	if ch, ok := ChannelByKind("Cable"); !ok || ch.SourceTable != SourceTableB || ch.ElementTypeKey != ElementTypeCable {
		t.Errorf("ChannelByKind(Cable) = %+v, %v", ch, ok)
	}
	if ch, ok := ChannelByKey(1); !ok || ch.SystemUserKey != 3 {
		t.Errorf("ChannelByKey(1) = %+v, %v", ch, ok)
	}

	all := Channels()
	all[0].Name = "mutated"
	if Channels()[0].Name != "Cabin" {
		t.Error("Channels() must return a copy")
	}
}

func TestTopologySeed(t *testing.T) {
	db := setupTestDB(t)
	path := filepath.Join(t.TempDir(), "topology.yaml")
	content := `elements:
  - key: 1
    name: Cairo
    type: 1
  - key: 20
    name: Cabin_0001
    type: 6
    parent: 1
  - key: 21
    name: Cabin_0002
    type: 6
    active: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}

	n, err := LoadTopologySeed(db, path)
	if err != nil {
		t.Fatalf("LoadTopologySeed() error = %v", err)
	}
	if n != 3 {
		t.Errorf("loaded %d elements, want 3", n)
	}
	if _, err := LoadTopologySeed(db, path); err != nil {
		t.Fatalf("reloading seed should skip existing keys, got %v", err)
	}

	var inactive NetworkElement
	if err := db.First(&inactive, 21).Error; err != nil {
		t.Fatalf("failed to load element 21: %v", err)
	}
	if inactive.IsActive {
		t.Error("element 21 should be inactive")
	}
	var cabin NetworkElement
	db.First(&cabin, 20)
	if cabin.ParentKey == nil || *cabin.ParentKey != 1 || !cabin.IsActive {
		t.Errorf("element 20 = %+v", cabin)
	}
}

func TestParseTopologySeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed", yaml: "elements: [unclosed"},
		{name: "zero key", yaml: "elements:\n  - key: 0\n    name: x\n    type: 6\n"},
		{name: "duplicate key", yaml: "elements:\n  - key: 5\n    name: x\n    type: 6\n  - key: 5\n    name: y\n    type: 7\n"},
		{name: "unknown type", yaml: "elements:\n  - key: 5\n    name: x\n    type: 42\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTopologySeed([]byte(tt.yaml)); err == nil {
				t.Error("ParseTopologySeed() expected error")
			}
		})
	}
}

func TestIsPostgresDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"postgres://u:p@localhost:5432/db", true},
		{"postgresql://localhost/db", true},
		{"host=localhost user=u dbname=db", true},
		{":memory:", false},
		{"./data/outagesync.db", false},
	}
	for _, tt := range tests {
		if got := isPostgresDSN(tt.dsn); got != tt.want {
			t.Errorf("isPostgresDSN(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
	if got := sqliteDSN("file.db?cache=private", 250*time.Millisecond); got != "file.db?cache=private&_busy_timeout=250" {
		t.Errorf("sqliteDSN() = %q", got)
	}
}

func TestIsMemoryDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{":memory:", true},
		{":memory:?_busy_timeout=100", true},
		{"file::memory:?cache=shared", true},
		{"file:outages?mode=memory&cache=shared", true},
		{"./data/outagesync.db", false},
		{"/var/lib/outagesync/memory.db", false},
		{"file:outages.db?mode=rwc", false},
	}
	for _, tt := range tests {
		if got := isMemoryDSN(tt.dsn); got != tt.want {
			t.Errorf("isMemoryDSN(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}

func TestOpen_SingleConnectionOnlyForMemory(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		wantOpen int
	}{
		{name: "memory", dsn: ":memory:", wantOpen: 1},
		{name: "file", dsn: filepath.Join(t.TempDir(), "pool.db"), wantOpen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(tt.dsn, logger.Silent, 0)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				t.Fatalf("DB() error = %v", err)
			}
			defer sqlDB.Close()

			if got := sqlDB.Stats().MaxOpenConnections; got != tt.wantOpen {
				t.Errorf("MaxOpenConnections = %d, want %d", got, tt.wantOpen)
			}
		})
	}
}

func TestAllocateKeys_RollbackReleasesKeys(t *testing.T) {
	db := setupTestDB(t)
	table := FactDetail{}.TableName()
	errInsertFailed := errors.New("insert failed")

	var first int64
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := LockKeyTable(tx, table); err != nil {
			return err
		}
		var err error
		first, err = AllocateKeys(tx, table, 3)
		if err != nil {
			return err
		}
		for i := int64(0); i < 2; i++ {
			if err := tx.Create(&FactDetail{DetailKey: first + i, HeaderKey: 1}).Error; err != nil {
				return err
			}
		}
		return errInsertFailed
	})
	if !errors.Is(err, errInsertFailed) {
		t.Fatalf("Transaction() error = %v, want %v", err, errInsertFailed)
	}

	var rows int64
	if err := db.Model(&FactDetail{}).Count(&rows).Error; err != nil {
		t.Fatalf("failed to count details: %v", err)
	}
	if rows != 0 {
		t.Errorf("detail rows after rollback = %d, want 0", rows)
	}

	var again int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		again, err = AllocateKeys(tx, table, 3)
		return err
	})
	if err != nil {
		t.Fatalf("AllocateKeys() after rollback error = %v", err)
	}
	if again != first {
		t.Errorf("first key after rollback = %d, want %d", again, first)
	}
}
