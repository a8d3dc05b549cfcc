package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sta-electricity/outagesync/internal/config"
	"github.com/sta-electricity/outagesync/internal/database"

	"gorm.io/gorm"
)

// IncidentProcedures creates headers for newly opened source incidents and
// closes headers whose source incident has ended.
type IncidentProcedures interface {
	CreateOpenIncidents(ctx context.Context, ch database.Channel) error
	CloseEndedIncidents(ctx context.Context, ch database.Channel) error
}

// NewIncidentProcedures picks the implementation for mode. An empty mode
// uses stored procedures on PostgreSQL and the in-process version elsewhere.
func NewIncidentProcedures(db *gorm.DB, mode string) (IncidentProcedures, error) {
	if mode == "" {
		mode = config.ProceduresInProcess
		if database.IsPostgres(db) {
			mode = config.ProceduresStored
		}
	}
	switch mode {
	case config.ProceduresStored:
		if !database.IsPostgres(db) {
			return nil, fmt.Errorf("stored procedures require PostgreSQL, got %s", db.Dialector.Name())
		}
		return NewStoredProcedures(db), nil
	case config.ProceduresInProcess:
		return NewGormProcedures(db), nil
	default:
		return nil, fmt.Errorf("unknown procedure mode %q", mode)
	}
}

// StoredProcedures delegates to fta_sp_create / fta_sp_close, which take the
// channel key as their only argument.
type StoredProcedures struct {
	db        *gorm.DB
	createSQL string
	closeSQL  string
}

// NewStoredProcedures creates a stored procedure caller
func NewStoredProcedures(db *gorm.DB) *StoredProcedures {
	return &StoredProcedures{db: db, createSQL: "fta_sp_create", closeSQL: "fta_sp_close"}
}

// CreateOpenIncidents calls fta_sp_create.
func (p *StoredProcedures) CreateOpenIncidents(ctx context.Context, ch database.Channel) error {
	return p.call(ctx, p.createSQL, ch.Key)
}

// CloseEndedIncidents calls fta_sp_close.
func (p *StoredProcedures) CloseEndedIncidents(ctx context.Context, ch database.Channel) error {
	return p.call(ctx, p.closeSQL, ch.Key)
}

func (p *StoredProcedures) call(ctx context.Context, name string, channelKey int64) error {
	db := p.db.WithContext(ctx)

	var exists bool
	if err := db.Raw("SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = ?)", name).Scan(&exists).Error; err != nil {
		return fmt.Errorf("failed to look up procedure %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrProcedureMissing, name)
	}

	// name comes from a fixed set, never from input.
	if err := db.Exec(fmt.Sprintf("CALL %s(?)", name), channelKey).Error; err != nil {
		return fmt.Errorf("failed to call %s for channel %d: %w", name, channelKey, err)
	}
	return nil
}

// GormProcedures performs create and close with ordinary queries.
type GormProcedures struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormProcedures creates the in-process procedures
func NewGormProcedures(db *gorm.DB) *GormProcedures {
	return &GormProcedures{db: db, now: time.Now}
}

// WithClock overrides the time source for synch timestamps.
func (p *GormProcedures) WithClock(now func() time.Time) *GormProcedures {
	p.now = now
	return p
}

// CreateOpenIncidents inserts a header for every active, not yet ended
// source incident that has no header on ch.
func (p *GormProcedures) CreateOpenIncidents(ctx context.Context, ch database.Channel) error {
	headerTable := database.FactHeader{}.TableName()
	created := 0

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockKeyTable(tx, headerTable); err != nil {
			return err
		}

		var open []database.SourceIncident
		err := tx.Table(ch.SourceTable).
			Where("end_date IS NULL AND is_active = ?", true).
			Where("incident_id NOT IN (SELECT cutting_down_incident_id FROM cutting_down_header WHERE channel_key = ?)", ch.Key).
			Order("incident_id ASC").
			Find(&open).Error
		if err != nil {
			return fmt.Errorf("failed to read open incidents from %s: %w", ch.SourceTable, err)
		}
		if len(open) == 0 {
			return nil
		}

		first, err := database.AllocateKeys(tx, headerTable, len(open))
		if err != nil {
			return err
		}

		now := p.now()
		userKey := ch.SystemUserKey
		headers := make([]database.FactHeader, len(open))
		for i, src := range open {
			headers[i] = database.FactHeader{
				HeaderKey:        first + int64(i),
				ChannelKey:       ch.Key,
				IncidentID:       src.IncidentID,
				ProblemTypeKey:   src.ProblemTypeKey,
				ActualCreateDate: src.CreateDate,
				SynchCreateDate:  &now,
				IsPlanned:        src.IsPlanned,
				IsGlobal:         src.IsGlobal,
				PlannedStartDate: src.PlannedStartDate,
				PlannedEndDate:   src.PlannedEndDate,
				IsActive:         true,
				CreateUserKey:    &userKey,
			}
		}
		if err := tx.CreateInBatches(headers, detailInsertBatch).Error; err != nil {
			return fmt.Errorf("failed to insert headers: %w", err)
		}
		created = len(headers)
		return nil
	})
	if err != nil {
		return err
	}

	if created > 0 {
		log.Printf("GormProcedures: channel %d created %d header(s)", ch.Key, created)
	}
	return nil
}

type endedIncident struct {
	HeaderKey int64
	EndDate   *time.Time
}

// CloseEndedIncidents copies the source end date onto every open header of
// ch whose source incident has ended.
func (p *GormProcedures) CloseEndedIncidents(ctx context.Context, ch database.Channel) error {
	closed := 0

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ended []endedIncident
		err := tx.Table("cutting_down_header AS h").
			Select("h.cutting_down_key AS header_key, s.end_date AS end_date").
			Joins(fmt.Sprintf("JOIN %s s ON s.incident_id = h.cutting_down_incident_id", ch.SourceTable)).
			Where("h.channel_key = ? AND h.actual_end_date IS NULL AND s.end_date IS NOT NULL", ch.Key).
			Order("h.cutting_down_key ASC").
			Scan(&ended).Error
		if err != nil {
			return fmt.Errorf("failed to find ended incidents: %w", err)
		}

		now := p.now()
		for _, e := range ended {
			res := tx.Model(&database.FactHeader{}).
				Where("cutting_down_key = ? AND actual_end_date IS NULL", e.HeaderKey).
				Updates(map[string]interface{}{
					"actual_end_date":       e.EndDate,
					"synch_update_date":     now,
					"update_system_user_id": ch.SystemUserKey,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to close header %d: %w", e.HeaderKey, res.Error)
			}
			closed += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if closed > 0 {
		log.Printf("GormProcedures: channel %d closed %d header(s)", ch.Key, closed)
	}
	return nil
}
