package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Dialect names as reported by gorm dialectors.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DB is the global database instance
var DB *gorm.DB

// Connect opens the database named by dsn and stores it in DB.
// postgres:// URLs and key=value DSNs use PostgreSQL, anything else is a
// SQLite path (":memory:" included).
func Connect(dsn string, logLevel logger.LogLevel, lockTimeout time.Duration) error {
	db, err := Open(dsn, logLevel, lockTimeout)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open is Connect without touching the global.
func Open(dsn string, logLevel logger.LogLevel, lockTimeout time.Duration) (*gorm.DB, error) {
	if lockTimeout > 0 {
		SetLockTimeout(lockTimeout)
	}

	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(sqliteDSN(dsn, LockTimeout()))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if db.Dialector.Name() == DialectSQLite && isMemoryDSN(dsn) {
		// In-memory databases are per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Printf("Database connection established (%s)", db.Dialector.Name())
	return db, nil
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}

func isMemoryDSN(dsn string) bool {
	path, query, _ := strings.Cut(strings.TrimSpace(dsn), "?")
	return path == ":memory:" || path == "file::memory:" || strings.Contains(query, "mode=memory")
}

func sqliteDSN(dsn string, busy time.Duration) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d", dsn, sep, busy.Milliseconds())
}

// IsPostgres reports whether db talks to PostgreSQL.
func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == DialectPostgres
}

// AutoMigrate runs database migrations
func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate creates or updates every table used by the sync engine.
func Migrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&NetworkElementType{},
		&NetworkElement{},
		&Channel{},
		&FactHeader{},
		&FactDetail{},
		&IgnoredOutage{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	for _, table := range []string{SourceTableA, SourceTableB} {
		if err := db.Table(table).AutoMigrate(&SourceIncident{}); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", table, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// InitializeDefaults creates default records if they don't exist
func InitializeDefaults() error {
	return SeedDefaults(DB)
}

var defaultElementTypes = []NetworkElementType{
	{Key: ElementTypeGovernrate, Name: "Governrate"},
	{Key: ElementTypeSector, Name: "Sector", ParentTypeKey: ptr(ElementTypeGovernrate)},
	{Key: ElementTypeZone, Name: "Zone", ParentTypeKey: ptr(ElementTypeSector)},
	{Key: ElementTypeCity, Name: "City", ParentTypeKey: ptr(ElementTypeZone)},
	{Key: ElementTypeStation, Name: "Station", ParentTypeKey: ptr(ElementTypeCity)},
	{Key: ElementTypeCabin, Name: "Cabin", ParentTypeKey: ptr(ElementTypeStation)},
	{Key: ElementTypeCable, Name: "Cable", ParentTypeKey: ptr(ElementTypeCabin)},
	{Key: ElementTypeBlock, Name: "Block", ParentTypeKey: ptr(ElementTypeCable)},
	{Key: ElementTypeBuilding, Name: "Building", ParentTypeKey: ptr(ElementTypeBlock)},
	{Key: ElementTypeFlat, Name: "Flat", ParentTypeKey: ptr(ElementTypeBuilding)},
}

// SeedDefaults inserts the element type hierarchy and the channel rows.
// Existing rows are left untouched.
func SeedDefaults(db *gorm.DB) error {
	log.Println("Initializing default database records...")

	types := make([]NetworkElementType, len(defaultElementTypes))
	copy(types, defaultElementTypes)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&types).Error; err != nil {
		return fmt.Errorf("failed to seed network element types: %w", err)
	}

	rows := Channels()
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to seed channels: %w", err)
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

func ptr[T any](v T) *T {
	return &v
}
