package testhelpers

import (
	"time"

	"github.com/sta-electricity/outagesync/internal/database"
)

// ========================================
// Source Incident Builder
// ========================================

// SourceIncidentBuilder builds SourceIncident rows for testing
type SourceIncidentBuilder struct {
	incident database.SourceIncident
}

// NewSourceIncidentBuilder creates an open, active, unplanned incident
func NewSourceIncidentBuilder(id int64) *SourceIncidentBuilder {
	created := time.Now().Add(-time.Hour)
	return &SourceIncidentBuilder{
		incident: database.SourceIncident{
			IncidentID:  id,
			ElementName: "Cabin_0001",
			CreateDate:  &created,
			IsActive:    true,
			CreatedUser: "SourceA",
		},
	}
}

// WithElement sets the free-text element name
func (b *SourceIncidentBuilder) WithElement(name string) *SourceIncidentBuilder {
	b.incident.ElementName = name
	return b
}

// CreatedAt sets the source create date; nil clears it
func (b *SourceIncidentBuilder) CreatedAt(t *time.Time) *SourceIncidentBuilder {
	b.incident.CreateDate = t
	return b
}

// EndedAt marks the incident as ended
func (b *SourceIncidentBuilder) EndedAt(t time.Time) *SourceIncidentBuilder {
	b.incident.EndDate = &t
	return b
}

// Planned marks the incident planned with the given window
func (b *SourceIncidentBuilder) Planned(start, end time.Time) *SourceIncidentBuilder {
	b.incident.IsPlanned = true
	b.incident.PlannedStartDate = &start
	b.incident.PlannedEndDate = &end
	return b
}

// Global marks the incident global
func (b *SourceIncidentBuilder) Global() *SourceIncidentBuilder {
	b.incident.IsGlobal = true
	return b
}

// Inactive marks the incident inactive
func (b *SourceIncidentBuilder) Inactive() *SourceIncidentBuilder {
	b.incident.IsActive = false
	return b
}

// WithProblemType sets the problem type key
func (b *SourceIncidentBuilder) WithProblemType(key int64) *SourceIncidentBuilder {
	b.incident.ProblemTypeKey = &key
	return b
}

// Build returns the constructed incident
func (b *SourceIncidentBuilder) Build() database.SourceIncident {
	return b.incident
}

// ========================================
// Fact Header Builder
// ========================================

// FactHeaderBuilder builds FactHeader rows for testing
type FactHeaderBuilder struct {
	header database.FactHeader
}

// NewFactHeaderBuilder creates an open header on channel 1
func NewFactHeaderBuilder(key, incidentID int64) *FactHeaderBuilder {
	created := time.Now().Add(-time.Hour)
	synced := time.Now()
	return &FactHeaderBuilder{
		header: database.FactHeader{
			HeaderKey:        key,
			ChannelKey:       1,
			IncidentID:       incidentID,
			ActualCreateDate: &created,
			SynchCreateDate:  &synced,
			IsActive:         true,
		},
	}
}

// OnChannel sets the channel key
func (b *FactHeaderBuilder) OnChannel(key int64) *FactHeaderBuilder {
	b.header.ChannelKey = key
	return b
}

// CreatedAt sets the actual create date; nil clears it
func (b *FactHeaderBuilder) CreatedAt(t *time.Time) *FactHeaderBuilder {
	b.header.ActualCreateDate = t
	return b
}

// SyncedAt sets the synch create date
func (b *FactHeaderBuilder) SyncedAt(t time.Time) *FactHeaderBuilder {
	b.header.SynchCreateDate = &t
	return b
}

// ClosedAt sets the actual end date and synch update date
func (b *FactHeaderBuilder) ClosedAt(end, synced time.Time) *FactHeaderBuilder {
	b.header.ActualEndDate = &end
	b.header.SynchUpdateDate = &synced
	return b
}

// Build returns the constructed header
func (b *FactHeaderBuilder) Build() database.FactHeader {
	return b.header
}

// ========================================
// Network Element Builder
// ========================================

// NetworkElementBuilder builds NetworkElement rows for testing
type NetworkElementBuilder struct {
	element database.NetworkElement
}

// NewNetworkElementBuilder creates an active cabin element
func NewNetworkElementBuilder(key int64, name string) *NetworkElementBuilder {
	return &NetworkElementBuilder{
		element: database.NetworkElement{
			Key:      key,
			Name:     name,
			TypeKey:  database.ElementTypeCabin,
			IsActive: true,
		},
	}
}

// OfType sets the element type
func (b *NetworkElementBuilder) OfType(typeKey int64) *NetworkElementBuilder {
	b.element.TypeKey = typeKey
	return b
}

// WithParent sets the parent element
func (b *NetworkElementBuilder) WithParent(key int64) *NetworkElementBuilder {
	b.element.ParentKey = &key
	return b
}

// Inactive marks the element inactive
func (b *NetworkElementBuilder) Inactive() *NetworkElementBuilder {
	b.element.IsActive = false
	return b
}

// Build returns the constructed element
func (b *NetworkElementBuilder) Build() database.NetworkElement {
	return b.element
}
