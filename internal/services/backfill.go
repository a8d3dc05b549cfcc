package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sta-electricity/outagesync/internal/database"
	"github.com/sta-electricity/outagesync/internal/utils"

	"gorm.io/gorm"
)

const (
	defaultBackfillAttempts = 3
	defaultBackfillStep     = time.Second
	sourceLookupChunk       = 500
	detailInsertBatch       = 500
)

// DetailBackfiller creates the missing detail row for every header of a
// channel, resolving the affected network element by name.
type DetailBackfiller struct {
	db          *gorm.DB
	matcher     *NetworkElementMatcher
	maxAttempts uint
	retryStep   time.Duration
	now         func() time.Time
}

// NewDetailBackfiller creates a backfiller that retries lock conflicts
// three times with a linear 1s step.
func NewDetailBackfiller(db *gorm.DB, matcher *NetworkElementMatcher) *DetailBackfiller {
	if matcher == nil {
		matcher = NewNetworkElementMatcher()
	}
	return &DetailBackfiller{
		db:          db,
		matcher:     matcher,
		maxAttempts: defaultBackfillAttempts,
		retryStep:   defaultBackfillStep,
		now:         time.Now,
	}
}

// WithRetry overrides the busy retry policy.
func (b *DetailBackfiller) WithRetry(attempts uint, step time.Duration) *DetailBackfiller {
	if attempts > 0 {
		b.maxAttempts = attempts
	}
	b.retryStep = step
	return b
}

// WithClock overrides the time source used for missing create dates.
func (b *DetailBackfiller) WithClock(now func() time.Time) *DetailBackfiller {
	b.now = now
	return b
}

// Backfill inserts one detail per header of ch that has none and returns
// the number inserted. Either every candidate is written or none is.
func (b *DetailBackfiller) Backfill(ctx context.Context, ch database.Channel) (int, error) {
	attempt := 0
	inserted, err := backoff.Retry(ctx, func() (int, error) {
		attempt++
		n, err := b.backfillOnce(ctx, ch)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, database.ErrResourceBusy) {
			return 0, err
		}
		return 0, backoff.Permanent(err)
	},
		backoff.WithBackOff(utils.NewLinearBackOff(b.retryStep)),
		backoff.WithMaxTries(b.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Printf("DetailBackfiller: channel %d attempt %d busy, retrying in %v: %v", ch.Key, attempt, wait, err)
		}),
	)
	if err != nil {
		log.Printf("DetailBackfiller: channel %d failed after %d attempt(s): %v", ch.Key, attempt, err)
		return 0, stepError(SyncStateBackfilling, err)
	}
	return inserted, nil
}

type detailCandidate struct {
	header     database.FactHeader
	elementKey *int64
}

func (b *DetailBackfiller) backfillOnce(ctx context.Context, ch database.Channel) (int, error) {
	detailTable := database.FactDetail{}.TableName()
	inserted := 0
	unmatched := 0

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		headers, err := headersWithoutDetail(tx, ch.Key)
		if err != nil {
			return err
		}
		if len(headers) == 0 {
			return nil
		}

		// Re-read under the lock so concurrent runs never double-insert.
		if err := database.LockKeyTable(tx, detailTable); err != nil {
			return err
		}
		headers, err = headersWithoutDetail(tx, ch.Key)
		if err != nil {
			return err
		}
		if len(headers) == 0 {
			return nil
		}

		ids := make([]int64, len(headers))
		for i, h := range headers {
			ids[i] = h.IncidentID
		}
		names, err := sourceElementNames(tx, ch.SourceTable, ids)
		if err != nil {
			return err
		}

		index, err := b.matcher.LoadIndex(ctx, tx, ch.ElementTypeKey)
		if err != nil {
			return err
		}

		candidates := make([]detailCandidate, len(headers))
		for i, h := range headers {
			candidates[i] = detailCandidate{header: h}
			if key, ok := index.Match(names[h.IncidentID]); ok {
				candidates[i].elementKey = &key
			} else {
				unmatched++
			}
		}
		sortCandidates(candidates)

		first, err := database.AllocateKeys(tx, detailTable, len(candidates))
		if err != nil {
			return err
		}

		now := b.now()
		rows := make([]database.FactDetail, len(candidates))
		for i, c := range candidates {
			created := c.header.ActualCreateDate
			if created == nil {
				created = &now
			}
			rows[i] = database.FactDetail{
				DetailKey:         first + int64(i),
				HeaderKey:         c.header.HeaderKey,
				NetworkElementKey: c.elementKey,
				ActualCreateDate:  created,
				ActualEndDate:     c.header.ActualEndDate,
				ImpactedCustomers: 0,
			}
		}
		if err := tx.CreateInBatches(rows, detailInsertBatch).Error; err != nil {
			return fmt.Errorf("failed to insert details: %w", err)
		}
		inserted = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if inserted > 0 {
		log.Printf("DetailBackfiller: channel %d inserted %d detail(s), %d unmatched", ch.Key, inserted, unmatched)
	}
	return inserted, nil
}

func headersWithoutDetail(tx *gorm.DB, channelKey int64) ([]database.FactHeader, error) {
	var headers []database.FactHeader
	err := tx.Where("channel_key = ?", channelKey).
		Where("NOT EXISTS (SELECT 1 FROM cutting_down_detail d WHERE d.cutting_down_key = cutting_down_header.cutting_down_key)").
		Order("cutting_down_key ASC").
		Find(&headers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find headers without detail: %w", err)
	}
	return headers, nil
}

// sourceElementNames returns incident id -> element name. Incidents missing
// from the source table are absent from the map.
func sourceElementNames(tx *gorm.DB, table string, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	for start := 0; start < len(ids); start += sourceLookupChunk {
		end := min(start+sourceLookupChunk, len(ids))
		var rows []database.SourceIncident
		err := tx.Table(table).
			Select("incident_id", "element_name").
			Where("incident_id IN ?", ids[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", table, err)
		}
		for _, r := range rows {
			names[r.IncidentID] = r.ElementName
		}
	}
	return names, nil
}

// sortCandidates orders by header key, then element key with unmatched last.
func sortCandidates(c []detailCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].header.HeaderKey != c[j].header.HeaderKey {
			return c[i].header.HeaderKey < c[j].header.HeaderKey
		}
		a, b := c[i].elementKey, c[j].elementKey
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}
