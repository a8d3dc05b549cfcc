package services

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/sta-electricity/outagesync/internal/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scenario shapes the synthetic incidents produced by IncidentGenerator.
type Scenario string

const (
	ScenarioPlanned   Scenario = "planned"
	ScenarioEmergency Scenario = "emergency"
	ScenarioGlobal    Scenario = "global"
	ScenarioMixed     Scenario = "mixed"
)

// Scenarios lists every supported scenario.
func Scenarios() []Scenario {
	return []Scenario{ScenarioPlanned, ScenarioEmergency, ScenarioGlobal, ScenarioMixed}
}

// ParseScenario accepts a scenario name in any case.
func ParseScenario(s string) (Scenario, error) {
	sc := Scenario(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Scenarios() {
		if sc == known {
			return sc, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScenario, s)
}

const (
	minIncidentID       = 100000
	maxIncidentID       = 999999
	maxProblemTypeKey   = 12
	elementSampleLimit  = 200
	incidentIDAttempts  = 10
	fallbackNameModulus = 10000
)

// scenarioParams drives one scenario for one channel. Hour ranges are
// half-open [min, max).
type scenarioParams struct {
	plannedProb float64
	globalProb  float64

	startMinH, startMaxH int // planned start offset from now
	durMinH, durMaxH     int // planned duration

	closeProb float64

	// When endFromPlanned is set the end date is planned end plus a jitter
	// in minutes, otherwise create date plus an offset in hours.
	endFromPlanned bool
	endMin, endMax int
}

var generatorProfiles = map[string]map[Scenario]scenarioParams{
	"cabin": {
		ScenarioPlanned:   {plannedProb: 1, startMinH: 2, startMaxH: 3, durMinH: 4, durMaxH: 5, closeProb: 0.7, endFromPlanned: true, endMin: -30, endMax: 60},
		ScenarioEmergency: {globalProb: 0.3, closeProb: 0.4, endMin: 1, endMax: 12},
		ScenarioGlobal:    {plannedProb: 0.5, globalProb: 1, startMinH: 1, startMaxH: 2, durMinH: 6, durMaxH: 7, closeProb: 0.5, endMin: 2, endMax: 24},
		ScenarioMixed:     {plannedProb: 0.6, globalProb: 0.2, startMinH: 1, startMaxH: 48, durMinH: 2, durMaxH: 8, closeProb: 0.6, endMin: 1, endMax: 48},
	},
	"cable": {
		ScenarioPlanned:   {plannedProb: 1, startMinH: 2, startMaxH: 3, durMinH: 3, durMaxH: 4, closeProb: 0.8, endFromPlanned: true, endMin: -15, endMax: 30},
		ScenarioEmergency: {globalProb: 0.4, closeProb: 0.3, endMin: 1, endMax: 8},
		ScenarioGlobal:    {plannedProb: 0.4, globalProb: 1, startMinH: 1, startMaxH: 2, durMinH: 4, durMaxH: 5, closeProb: 0.6, endMin: 2, endMax: 18},
		ScenarioMixed:     {plannedProb: 0.5, globalProb: 0.25, startMinH: 1, startMaxH: 24, durMinH: 1, durMaxH: 6, closeProb: 0.55, endMin: 1, endMax: 36},
	},
}

// IncidentGenerator writes synthetic source incidents into a channel's
// staging table so the sync pipeline has something to consume.
type IncidentGenerator struct {
	db  *gorm.DB
	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewIncidentGenerator creates a generator seeded from the clock.
func NewIncidentGenerator(db *gorm.DB) *IncidentGenerator {
	seed := uint64(time.Now().UnixNano())
	return &IncidentGenerator{
		db:  db,
		now: time.Now,
		rng: rand.New(rand.NewPCG(seed, seed>>7|1)),
	}
}

// WithRand replaces the random source, for deterministic tests.
func (g *IncidentGenerator) WithRand(r *rand.Rand) *IncidentGenerator {
	g.rng = r
	return g
}

// WithClock overrides the time source.
func (g *IncidentGenerator) WithClock(now func() time.Time) *IncidentGenerator {
	g.now = now
	return g
}

// Generate inserts count incidents of scenario into ch's source table and
// returns them.
func (g *IncidentGenerator) Generate(ctx context.Context, ch database.Channel, count int, scenario Scenario) ([]database.SourceIncident, error) {
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	profile, ok := generatorProfiles[ch.GeneratorKind][scenario]
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownScenario, scenario, ch.GeneratorKind)
	}

	var incidents []database.SourceIncident
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		names, err := activeElementNames(tx, ch.ElementTypeKey)
		if err != nil {
			return err
		}

		now := g.now()
		incidents = make([]database.SourceIncident, 0, count)
		for round := 0; round < incidentIDAttempts && len(incidents) < count; round++ {
			ids, err := g.freeIncidentIDs(tx, ch.SourceTable, count-len(incidents))
			if err != nil {
				return err
			}

			batch := make([]database.SourceIncident, len(ids))
			g.mu.Lock()
			for i, id := range ids {
				batch[i] = g.build(ch, profile, id, names, now)
			}
			g.mu.Unlock()

			written, err := insertUnclaimed(tx, ch.SourceTable, batch)
			if err != nil {
				return err
			}
			if lost := len(batch) - len(written); lost > 0 {
				log.Printf("IncidentGenerator: %d incident id(s) claimed concurrently in %s, drawing replacements", lost, ch.SourceTable)
			}
			incidents = append(incidents, written...)
		}
		if len(incidents) < count {
			return fmt.Errorf("could only write %d of %d incidents to %s", len(incidents), count, ch.SourceTable)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("IncidentGenerator: %d %s incident(s) written to %s", count, scenario, ch.SourceTable)
	return incidents, nil
}

// build must be called with g.mu held.
func (g *IncidentGenerator) build(ch database.Channel, p scenarioParams, id int64, names []string, now time.Time) database.SourceIncident {
	problem := int64(g.rng.IntN(maxProblemTypeKey) + 1)
	created := now

	inc := database.SourceIncident{
		IncidentID:     id,
		ElementName:    g.elementName(ch, names),
		ProblemTypeKey: &problem,
		CreateDate:     &created,
		IsPlanned:      g.chance(p.plannedProb),
		IsGlobal:       g.chance(p.globalProb),
		IsActive:       true,
		CreatedUser:    ch.CreatedUser,
	}

	var plannedEnd time.Time
	if inc.IsPlanned {
		start := now.Add(time.Duration(g.between(p.startMinH, p.startMaxH)) * time.Hour)
		plannedEnd = start.Add(time.Duration(g.between(p.durMinH, p.durMaxH)) * time.Hour)
		inc.PlannedStartDate = &start
		inc.PlannedEndDate = &plannedEnd
	}

	if g.chance(p.closeProb) {
		var end time.Time
		if p.endFromPlanned && inc.IsPlanned {
			end = plannedEnd.Add(time.Duration(g.between(p.endMin, p.endMax)) * time.Minute)
		} else {
			lo, hi := p.endMin, p.endMax
			if p.endFromPlanned {
				lo, hi = 1, 2
			}
			end = created.Add(time.Duration(g.between(lo, hi)) * time.Hour)
		}
		inc.EndDate = &end
		inc.UpdatedUser = ch.CreatedUser
	}
	return inc
}

func (g *IncidentGenerator) elementName(ch database.Channel, names []string) string {
	if len(names) > 0 {
		return names[g.rng.IntN(len(names))]
	}
	return fmt.Sprintf("%s_%04d", ch.Name, g.rng.IntN(fallbackNameModulus))
}

func (g *IncidentGenerator) chance(p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	}
	return g.rng.Float64() < p
}

// between returns a value in [lo, hi); lo when the range is empty.
func (g *IncidentGenerator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.IntN(hi-lo)
}

// freeIncidentIDs draws count distinct ids not yet used in table.
func (g *IncidentGenerator) freeIncidentIDs(tx *gorm.DB, table string, count int) ([]int64, error) {
	chosen := make(map[int64]bool, count)
	ids := make([]int64, 0, count)

	for round := 0; round < incidentIDAttempts && len(ids) < count; round++ {
		g.mu.Lock()
		var draw []int64
		for len(ids)+len(draw) < count {
			id := int64(minIncidentID + g.rng.IntN(maxIncidentID-minIncidentID+1))
			if chosen[id] {
				continue
			}
			chosen[id] = true
			draw = append(draw, id)
		}
		g.mu.Unlock()

		var taken []int64
		if err := tx.Table(table).Where("incident_id IN ?", draw).Pluck("incident_id", &taken).Error; err != nil {
			return nil, fmt.Errorf("failed to check incident ids in %s: %w", table, err)
		}
		used := make(map[int64]bool, len(taken))
		for _, id := range taken {
			used[id] = true
		}
		for _, id := range draw {
			if !used[id] {
				ids = append(ids, id)
			}
		}
	}

	if len(ids) < count {
		return nil, fmt.Errorf("could not find %d free incident ids in %s", count, table)
	}
	return ids, nil
}

// insertUnclaimed writes each incident unless its id already exists, which
// happens when a concurrent generator claims it after freeIncidentIDs ran.
// It returns the incidents actually written.
func insertUnclaimed(tx *gorm.DB, table string, batch []database.SourceIncident) ([]database.SourceIncident, error) {
	written := make([]database.SourceIncident, 0, len(batch))
	for i := range batch {
		res := tx.Table(table).Clauses(clause.OnConflict{DoNothing: true}).Create(&batch[i])
		if res.Error != nil {
			return nil, fmt.Errorf("failed to insert into %s: %w", table, res.Error)
		}
		if res.RowsAffected > 0 {
			written = append(written, batch[i])
		}
	}
	return written, nil
}

func activeElementNames(tx *gorm.DB, typeKey int64) ([]string, error) {
	var names []string
	err := tx.Model(&database.NetworkElement{}).
		Where("network_element_type_key = ? AND is_active = ?", typeKey, true).
		Order("network_element_key ASC").
		Limit(elementSampleLimit).
		Pluck("network_element_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load element names: %w", err)
	}
	return names, nil
}
