package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sta-electricity/outagesync/internal/database"

	"gorm.io/gorm"
)

// SyncState is the step a channel sync run is in.
type SyncState string

const (
	SyncStateIdle        SyncState = "idle"
	SyncStateCreating    SyncState = "creating"
	SyncStateClosing     SyncState = "closing"
	SyncStateBackfilling SyncState = "backfilling"
	SyncStateDone        SyncState = "done"
	SyncStateFailed      SyncState = "failed"
)

// SyncResult summarizes one channel sync run.
type SyncResult struct {
	ChannelKey      int64     `json:"channel_key"`
	CreatedCount    int       `json:"created_count"`
	ClosedCount     int       `json:"closed_count"`
	InsertedDetails int       `json:"inserted_details"`
	State           SyncState `json:"state"`
	FailedStep      SyncState `json:"failed_step,omitempty"`
	Duration        time.Duration
}

// TotalProcessed is created plus closed.
func (r *SyncResult) TotalProcessed() int {
	return r.CreatedCount + r.ClosedCount
}

// SyncService runs the create, close and backfill steps for a channel.
type SyncService struct {
	db         *gorm.DB
	procedures IncidentProcedures
	backfiller *DetailBackfiller
	now        func() time.Time

	mu     sync.RWMutex
	states map[int64]SyncState
}

// NewSyncService creates a new sync service
func NewSyncService(db *gorm.DB, procedures IncidentProcedures, backfiller *DetailBackfiller) *SyncService {
	return &SyncService{
		db:         db,
		procedures: procedures,
		backfiller: backfiller,
		now:        time.Now,
		states:     make(map[int64]SyncState),
	}
}

// WithClock overrides the time source that defines "today".
func (s *SyncService) WithClock(now func() time.Time) *SyncService {
	s.now = now
	return s
}

// State returns the last known state of a channel.
func (s *SyncService) State(channelKey int64) SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[channelKey]; ok {
		return st
	}
	return SyncStateIdle
}

func (s *SyncService) setState(channelKey int64, st SyncState) {
	s.mu.Lock()
	s.states[channelKey] = st
	s.mu.Unlock()
}

// Synchronize resolves source ("A"/"B", case-insensitive) and runs it.
func (s *SyncService) Synchronize(ctx context.Context, source string) (*SyncResult, error) {
	ch, ok := database.ChannelBySource(source)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return s.Run(ctx, ch)
}

// Run synchronizes one channel. Counts cover headers synchronized during
// the current local calendar day. A failure in any step stops the run and
// is returned as a *SyncStepError; the result still reports the failed step.
func (s *SyncService) Run(ctx context.Context, ch database.Channel) (*SyncResult, error) {
	start := s.now()
	result := &SyncResult{ChannelKey: ch.Key, State: SyncStateIdle}
	dayStart, dayEnd := dayBounds(start)

	fail := func(step SyncState, err error) (*SyncResult, error) {
		result.State = SyncStateFailed
		result.FailedStep = step
		result.Duration = s.now().Sub(start)
		s.setState(ch.Key, SyncStateFailed)
		log.Printf("SyncService: channel %d failed while %s: %v", ch.Key, step, err)
		return result, stepError(step, err)
	}

	s.setState(ch.Key, SyncStateCreating)
	before, err := s.countSynchronizedOn(ctx, ch.Key, dayStart, dayEnd)
	if err != nil {
		return fail(SyncStateCreating, err)
	}
	if err := s.procedures.CreateOpenIncidents(ctx, ch); err != nil {
		return fail(SyncStateCreating, err)
	}
	after, err := s.countSynchronizedOn(ctx, ch.Key, dayStart, dayEnd)
	if err != nil {
		return fail(SyncStateCreating, err)
	}
	result.CreatedCount = int(max(after-before, 0))

	s.setState(ch.Key, SyncStateClosing)
	if err := s.procedures.CloseEndedIncidents(ctx, ch); err != nil {
		return fail(SyncStateClosing, err)
	}
	closed, err := s.countClosedOn(ctx, ch.Key, dayStart, dayEnd)
	if err != nil {
		return fail(SyncStateClosing, err)
	}
	result.ClosedCount = int(closed)

	s.setState(ch.Key, SyncStateBackfilling)
	inserted, err := s.backfiller.Backfill(ctx, ch)
	if err != nil {
		return fail(SyncStateBackfilling, err)
	}
	result.InsertedDetails = inserted

	result.State = SyncStateDone
	result.Duration = s.now().Sub(start)
	s.setState(ch.Key, SyncStateDone)
	log.Printf("SyncService: channel %d done: %d created, %d closed, %d details in %v",
		ch.Key, result.CreatedCount, result.ClosedCount, result.InsertedDetails, result.Duration)
	return result, nil
}

func (s *SyncService) countSynchronizedOn(ctx context.Context, channelKey int64, from, to time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&database.FactHeader{}).
		Where("channel_key = ? AND synch_create_date >= ? AND synch_create_date < ?", channelKey, from, to).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count synchronized headers: %w", err)
	}
	return n, nil
}

func (s *SyncService) countClosedOn(ctx context.Context, channelKey int64, from, to time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&database.FactHeader{}).
		Where("channel_key = ? AND actual_end_date IS NOT NULL", channelKey).
		Where("synch_update_date >= ? AND synch_update_date < ?", from, to).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count closed headers: %w", err)
	}
	return n, nil
}

// dayBounds returns local midnight of t and the following midnight.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
