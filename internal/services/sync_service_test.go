package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sta-electricity/outagesync/internal/database"
	"github.com/sta-electricity/outagesync/internal/testhelpers"

	"gorm.io/gorm"
)

func newTestSyncService(db *gorm.DB) *SyncService {
	return NewSyncService(db, NewGormProcedures(db), NewDetailBackfiller(db, nil))
}

// stubProcedures lets tests fail individual steps.
type stubProcedures struct {
	createErr, closeErr     error
	createCalls, closeCalls int
}

func (s *stubProcedures) CreateOpenIncidents(ctx context.Context, ch database.Channel) error {
	s.createCalls++
	return s.createErr
}

func (s *stubProcedures) CloseEndedIncidents(ctx context.Context, ch database.Channel) error {
	s.closeCalls++
	return s.closeErr
}

func TestSyncService_RunCreatesClosesAndBackfills(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	chA := channelA(t)
	ctx := context.Background()

	testhelpers.MustCreate(t, db, []database.NetworkElement{
		testhelpers.NewNetworkElementBuilder(1, "Cabin_0001").Build(),
		testhelpers.NewNetworkElementBuilder(2, "Cabin_0002").Build(),
	})
	testhelpers.MustCreateSource(t, db, chA.SourceTable,
		testhelpers.NewSourceIncidentBuilder(400001).WithElement("Cabin_0001").Build(),
		testhelpers.NewSourceIncidentBuilder(400002).WithElement("Cabin_0002").Build(),
		testhelpers.NewSourceIncidentBuilder(400003).WithElement("Cabin_9999").Build(),
	)

	svc := newTestSyncService(db)
	result, err := svc.Run(ctx, chA)
	testhelpers.AssertNoError(t, err, "first Run")
	testhelpers.AssertEqual(t, SyncStateDone, result.State, "state")
	testhelpers.AssertEqual(t, 3, result.CreatedCount, "created")
	testhelpers.AssertEqual(t, 0, result.ClosedCount, "closed")
	testhelpers.AssertEqual(t, 3, result.InsertedDetails, "details")
	testhelpers.AssertEqual(t, 3, result.TotalProcessed(), "total processed")
	testhelpers.AssertEqual(t, SyncStateDone, svc.State(chA.Key), "tracked state")

	ended := time.Now().Add(-5 * time.Minute)
	db.Table(chA.SourceTable).Where("incident_id = ?", 400002).Update("end_date", ended)

	result, err = svc.Run(ctx, chA)
	testhelpers.AssertNoError(t, err, "second Run")
	testhelpers.AssertEqual(t, 0, result.CreatedCount, "created on second run")
	testhelpers.AssertEqual(t, 1, result.ClosedCount, "closed on second run")
	testhelpers.AssertEqual(t, 0, result.InsertedDetails, "details on second run")

	var unmatched int64
	db.Model(&database.FactDetail{}).Where("network_element_key IS NULL").Count(&unmatched)
	testhelpers.AssertEqual(t, int64(1), unmatched, "unmatched details")
}

func TestSyncService_Synchronize(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	testhelpers.MustCreateSource(t, db, database.SourceTableB,
		testhelpers.NewSourceIncidentBuilder(600001).WithElement("Cable_0001").Build(),
	)
	svc := newTestSyncService(db)

	result, err := svc.Synchronize(context.Background(), "b")
	testhelpers.AssertNoError(t, err, "Synchronize(b)")
	testhelpers.AssertEqual(t, int64(2), result.ChannelKey, "channel")
	testhelpers.AssertEqual(t, 1, result.CreatedCount, "created")

	_, err = svc.Synchronize(context.Background(), "C")
	testhelpers.AssertErrorIs(t, err, ErrUnknownSource, "Synchronize(C)")
}

func TestSyncService_CountsOnlyToday(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	chA := channelA(t)
	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)

	testhelpers.MustCreate(t, db, []database.FactHeader{
		testhelpers.NewFactHeaderBuilder(1, 1).SyncedAt(yesterday).ClosedAt(yesterday, yesterday).Build(),
		testhelpers.NewFactHeaderBuilder(2, 2).SyncedAt(yesterday).ClosedAt(now, now).Build(),
	})

	result, err := newTestSyncService(db).Run(context.Background(), chA)
	testhelpers.AssertNoError(t, err, "Run")
	testhelpers.AssertEqual(t, 0, result.CreatedCount, "created")
	testhelpers.AssertEqual(t, 1, result.ClosedCount, "closed today")
	testhelpers.AssertEqual(t, 2, result.InsertedDetails, "details for pre-existing headers")
}

func TestSyncService_FailedStepSkipsBackfill(t *testing.T) {
	boom := errors.New("procedure exploded")

	tests := []struct {
		name       string
		procs      *stubProcedures
		wantStep   SyncState
		wantCloses int
	}{
		{name: "create fails", procs: &stubProcedures{createErr: boom}, wantStep: SyncStateCreating, wantCloses: 0},
		{name: "close fails", procs: &stubProcedures{closeErr: boom}, wantStep: SyncStateClosing, wantCloses: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testhelpers.NewTestDB(t)
			testhelpers.MustCreate(t, db, testhelpers.NewFactHeaderBuilder(1, 1).Build())
			svc := NewSyncService(db, tt.procs, NewDetailBackfiller(db, nil))

			result, err := svc.Run(context.Background(), channelA(t))
			testhelpers.AssertErrorIs(t, err, ErrSyncStepFailed, "step error")
			testhelpers.AssertErrorIs(t, err, boom, "cause")

			var stepErr *SyncStepError
			if !errors.As(err, &stepErr) || stepErr.Step != tt.wantStep {
				t.Errorf("error = %v, want step %s", err, tt.wantStep)
			}
			testhelpers.AssertEqual(t, SyncStateFailed, result.State, "result state")
			testhelpers.AssertEqual(t, tt.wantStep, result.FailedStep, "failed step")
			testhelpers.AssertEqual(t, tt.wantCloses, tt.procs.closeCalls, "close calls")
			testhelpers.AssertEqual(t, SyncStateFailed, svc.State(1), "tracked state")
			testhelpers.AssertEqual(t, int64(0), testhelpers.CountRows(t, db, &database.FactDetail{}, ""), "details written")
		})
	}
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("EET", 2*3600)
	start, end := dayBounds(time.Date(2024, 2, 29, 23, 59, 0, 0, loc))

	if !start.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, loc)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("end = %v", end)
	}
}
