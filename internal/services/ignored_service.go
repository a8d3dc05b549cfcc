package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sta-electricity/outagesync/internal/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IgnoredOutageService manages the operator ignore list.
type IgnoredOutageService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewIgnoredOutageService creates a new ignored outage service
func NewIgnoredOutageService(db *gorm.DB) *IgnoredOutageService {
	return &IgnoredOutageService{db: db, now: time.Now}
}

// List returns one page of ignored outages, newest first, and the total.
func (s *IgnoredOutageService) List(ctx context.Context, offset, limit int) ([]database.IgnoredOutage, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&database.IgnoredOutage{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ignored outages: %w", err)
	}

	var items []database.IgnoredOutage
	err := db.Order("synch_create_date DESC").
		Order("cutting_down_incident_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ignored outages: %w", err)
	}
	return items, total, nil
}

// Get returns the ignore entry for incidentID.
func (s *IgnoredOutageService) Get(ctx context.Context, incidentID int64) (*database.IgnoredOutage, error) {
	var item database.IgnoredOutage
	err := s.db.WithContext(ctx).Where("cutting_down_incident_id = ?", incidentID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotIgnored, incidentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ignored incident %d: %w", incidentID, err)
	}
	return &item, nil
}

// Ignore adds incidentID to the list. Element names and the create date
// are copied from whichever source table knows the incident.
func (s *IgnoredOutageService) Ignore(ctx context.Context, incidentID int64, reason, user string) (*database.IgnoredOutage, error) {
	if incidentID <= 0 {
		return nil, fmt.Errorf("incident id must be positive, got %d", incidentID)
	}

	item := &database.IgnoredOutage{
		IncidentID:      incidentID,
		SynchCreateDate: s.now(),
		Reason:          reason,
		CreatedUser:     user,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ch := range database.Channels() {
			var src database.SourceIncident
			err := tx.Table(ch.SourceTable).Where("incident_id = ?", incidentID).Take(&src).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to look up incident %d: %w", incidentID, err)
			}
			if item.ActualCreateDate == nil {
				item.ActualCreateDate = src.CreateDate
			}
			switch ch.ElementTypeKey {
			case database.ElementTypeCabin:
				item.CabinName = src.ElementName
			case database.ElementTypeCable:
				item.CableName = src.ElementName
			}
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(item)
		if res.Error != nil {
			return fmt.Errorf("failed to ignore incident %d: %w", incidentID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", ErrAlreadyIgnored, incidentID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Unignore removes incidentID. It reports false when it was not listed.
func (s *IgnoredOutageService) Unignore(ctx context.Context, incidentID int64) (bool, error) {
	res := s.db.WithContext(ctx).Where("cutting_down_incident_id = ?", incidentID).Delete(&database.IgnoredOutage{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to unignore incident %d: %w", incidentID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IsIgnored reports whether incidentID is on the list.
func (s *IgnoredOutageService) IsIgnored(ctx context.Context, incidentID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&database.IgnoredOutage{}).
		Where("cutting_down_incident_id = ?", incidentID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check incident %d: %w", incidentID, err)
	}
	return n > 0, nil
}
