package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/sta-electricity/outagesync/internal/database"
	"github.com/sta-electricity/outagesync/internal/testhelpers"

	"gorm.io/gorm"
)

func TestParseScenario(t *testing.T) {
	for _, s := range []string{"planned", "EMERGENCY", " Global ", "mixed"} {
		if _, err := ParseScenario(s); err != nil {
			t.Errorf("ParseScenario(%q) error = %v", s, err)
		}
	}
	if _, err := ParseScenario("storm"); !errors.Is(err, ErrUnknownScenario) {
		t.Errorf("ParseScenario(storm) error = %v, want ErrUnknownScenario", err)
	}
}

func TestIncidentGenerator_Planned(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	chA := channelA(t)
	testhelpers.MustCreate(t, db, []database.NetworkElement{
		testhelpers.NewNetworkElementBuilder(1, "Cabin_0001").Build(),
		testhelpers.NewNetworkElementBuilder(2, "Cabin_0002").Build(),
		testhelpers.NewNetworkElementBuilder(3, "Cabin_Retired").Inactive().Build(),
		testhelpers.NewNetworkElementBuilder(4, "Cable_0001").OfType(database.ElementTypeCable).Build(),
	})

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)
	gen := NewIncidentGenerator(db).
		WithRand(rand.New(rand.NewPCG(1, 2))).
		WithClock(func() time.Time { return now })

	incidents, err := gen.Generate(context.Background(), chA, 20, ScenarioPlanned)
	testhelpers.AssertNoError(t, err, "Generate")
	testhelpers.AssertEqual(t, 20, len(incidents), "generated")

	seen := make(map[int64]bool)
	for _, inc := range incidents {
		if inc.IncidentID < minIncidentID || inc.IncidentID > maxIncidentID {
			t.Errorf("incident id %d out of range", inc.IncidentID)
		}
		if seen[inc.IncidentID] {
			t.Errorf("duplicate incident id %d", inc.IncidentID)
		}
		seen[inc.IncidentID] = true

		if inc.ElementName != "Cabin_0001" && inc.ElementName != "Cabin_0002" {
			t.Errorf("element name %q not drawn from active cabins", inc.ElementName)
		}
		if !inc.IsPlanned || inc.PlannedStartDate == nil || inc.PlannedEndDate == nil {
			t.Errorf("planned scenario produced %+v", inc)
			continue
		}
		if got := inc.PlannedStartDate.Sub(now); got != 2*time.Hour {
			t.Errorf("planned start offset = %v, want 2h", got)
		}
		if got := inc.PlannedEndDate.Sub(*inc.PlannedStartDate); got != 4*time.Hour {
			t.Errorf("planned duration = %v, want 4h", got)
		}
		if inc.EndDate != nil {
			jitter := inc.EndDate.Sub(*inc.PlannedEndDate)
			if jitter < -30*time.Minute || jitter >= 60*time.Minute {
				t.Errorf("end jitter %v outside [-30m, 60m)", jitter)
			}
		}
		if inc.IsGlobal || !inc.IsActive || inc.CreatedUser != "SourceA" {
			t.Errorf("unexpected flags: %+v", inc)
		}
		if inc.ProblemTypeKey == nil || *inc.ProblemTypeKey < 1 || *inc.ProblemTypeKey > maxProblemTypeKey {
			t.Errorf("problem type %v out of range", inc.ProblemTypeKey)
		}
	}

	var stored int64
	db.Table(chA.SourceTable).Count(&stored)
	testhelpers.AssertEqual(t, int64(20), stored, "rows written to feed A")
}

func TestIncidentGenerator_GlobalAndFallbackNames(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	chB := channelB(t)
	gen := NewIncidentGenerator(db).WithRand(rand.New(rand.NewPCG(7, 9)))

	incidents, err := gen.Generate(context.Background(), chB, 15, ScenarioGlobal)
	testhelpers.AssertNoError(t, err, "Generate")

	for _, inc := range incidents {
		if !inc.IsGlobal {
			t.Errorf("global scenario produced non-global incident %d", inc.IncidentID)
		}
		if !strings.HasPrefix(inc.ElementName, "Cable_") || len(inc.ElementName) != len("Cable_0000") {
			t.Errorf("fallback element name = %q", inc.ElementName)
		}
		if inc.CreatedUser != "SourceB" {
			t.Errorf("created user = %q", inc.CreatedUser)
		}
		if inc.EndDate != nil {
			if d := inc.EndDate.Sub(*inc.CreateDate); d < 2*time.Hour || d >= 18*time.Hour {
				t.Errorf("end offset %v outside [2h, 18h)", d)
			}
		}
	}
}

func TestIncidentGenerator_EmergencyNeverPlanned(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	gen := NewIncidentGenerator(db).WithRand(rand.New(rand.NewPCG(3, 4)))

	incidents, err := gen.Generate(context.Background(), channelA(t), 30, ScenarioEmergency)
	testhelpers.AssertNoError(t, err, "Generate")
	for _, inc := range incidents {
		if inc.IsPlanned || inc.PlannedStartDate != nil {
			t.Errorf("emergency incident %d is planned", inc.IncidentID)
		}
	}
}

func TestIncidentGenerator_RepeatedBatchesStayUnique(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	gen := NewIncidentGenerator(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := gen.Generate(ctx, channelA(t), 100, ScenarioMixed)
		testhelpers.AssertNoError(t, err, "Generate")
	}

	var rows, distinct int64
	db.Table(database.SourceTableA).Count(&rows)
	db.Table(database.SourceTableA).Distinct("incident_id").Count(&distinct)
	testhelpers.AssertEqual(t, int64(500), rows, "rows")
	testhelpers.AssertEqual(t, rows, distinct, "distinct ids")
}

func TestIncidentGenerator_InvalidInput(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	gen := NewIncidentGenerator(db)

	if _, err := gen.Generate(context.Background(), channelA(t), 0, ScenarioPlanned); err == nil {
		t.Error("expected error for zero count")
	}
	if _, err := gen.Generate(context.Background(), channelA(t), 1, Scenario("storm")); !errors.Is(err, ErrUnknownScenario) {
		t.Errorf("error = %v, want ErrUnknownScenario", err)
	}
}

func TestIncidentGenerator_IDClaimedDuringInsertIsReplaced(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	chA := channelA(t)

	// Another writer takes the first id between the free-id check and the insert.
	var claimedID int64
	err := db.Callback().Create().Before("gorm:create").Register("test:claim_first_id", func(tx *gorm.DB) {
		inc, ok := tx.Statement.Dest.(*database.SourceIncident)
		if !ok || claimedID != 0 || tx.Statement.Table != chA.SourceTable {
			return
		}
		claimedID = inc.IncidentID
		rival := database.SourceIncident{IncidentID: inc.IncidentID, ElementName: "claimed elsewhere", IsActive: true, CreatedUser: "rival"}
		if err := tx.Session(&gorm.Session{NewDB: true}).Table(chA.SourceTable).Create(&rival).Error; err != nil {
			tx.AddError(err)
		}
	})
	testhelpers.AssertNoError(t, err, "register callback")

	gen := NewIncidentGenerator(db).WithRand(rand.New(rand.NewPCG(11, 12)))
	incidents, err := gen.Generate(context.Background(), chA, 5, ScenarioEmergency)
	testhelpers.AssertNoError(t, err, "Generate")
	testhelpers.AssertEqual(t, 5, len(incidents), "generated incidents")
	if claimedID == 0 {
		t.Fatal("expected an id to be claimed during the insert")
	}

	seen := make(map[int64]bool)
	for _, inc := range incidents {
		if inc.IncidentID == claimedID {
			t.Errorf("incident %d was claimed by another writer but returned", claimedID)
		}
		seen[inc.IncidentID] = true
	}
	testhelpers.AssertEqual(t, 5, len(seen), "distinct incident ids")

	var stored int64
	db.Table(chA.SourceTable).Count(&stored)
	testhelpers.AssertEqual(t, int64(6), stored, "rows including the rival")

	var rival database.SourceIncident
	testhelpers.AssertNoError(t, db.Table(chA.SourceTable).Where("incident_id = ?", claimedID).Take(&rival).Error, "load rival")
	testhelpers.AssertEqual(t, "rival", rival.CreatedUser, "claimed row kept its owner")
}

func TestIncidentGenerator_ConcurrentCallsSameTable(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	chB := channelB(t)

	// Identical seeds make every worker draw the same ids.
	gens := make([]*IncidentGenerator, 4)
	for i := range gens {
		gens[i] = NewIncidentGenerator(db).WithRand(rand.New(rand.NewPCG(7, 7)))
	}

	errs := make([]error, len(gens))
	testhelpers.RunConcurrently(t, 30*time.Second, len(gens), func(worker int) {
		_, errs[worker] = gens[worker].Generate(context.Background(), chB, 25, ScenarioMixed)
	})
	for i, err := range errs {
		testhelpers.AssertNoError(t, err, fmt.Sprintf("worker %d", i))
	}

	var rows, distinct int64
	db.Table(chB.SourceTable).Count(&rows)
	db.Table(chB.SourceTable).Distinct("incident_id").Count(&distinct)
	testhelpers.AssertEqual(t, int64(100), rows, "rows")
	testhelpers.AssertEqual(t, rows, distinct, "distinct incident ids")
}
