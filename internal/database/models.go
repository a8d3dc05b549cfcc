package database

import (
	"strings"
	"time"
)

// Network element type keys used by the feeds.
const (
	ElementTypeGovernrate int64 = 1
	ElementTypeSector     int64 = 2
	ElementTypeZone       int64 = 3
	ElementTypeCity       int64 = 4
	ElementTypeStation    int64 = 5
	ElementTypeCabin      int64 = 6
	ElementTypeCable      int64 = 7
	ElementTypeBlock      int64 = 8
	ElementTypeBuilding   int64 = 9
	ElementTypeFlat       int64 = 10
)

// Source staging tables, one per feed.
const (
	SourceTableA = "cutting_down_a"
	SourceTableB = "cutting_down_b"
)

// SourceIncident is a raw outage row as delivered by an upstream feed.
// Both feeds share this layout and are addressed with db.Table(SourceTable).
type SourceIncident struct {
	IncidentID       int64      `gorm:"column:incident_id;primaryKey;autoIncrement:false" json:"incident_id"`
	ElementName      string     `gorm:"column:element_name;size:100" json:"element_name"`
	ProblemTypeKey   *int64     `gorm:"column:problem_type_key" json:"problem_type_key,omitempty"`
	CreateDate       *time.Time `gorm:"column:create_date" json:"create_date,omitempty"`
	EndDate          *time.Time `gorm:"column:end_date" json:"end_date,omitempty"`
	IsPlanned        bool       `gorm:"column:is_planned;not null" json:"is_planned"`
	IsGlobal         bool       `gorm:"column:is_global;not null" json:"is_global"`
	PlannedStartDate *time.Time `gorm:"column:planned_start_dts" json:"planned_start_dts,omitempty"`
	PlannedEndDate   *time.Time `gorm:"column:planned_end_dts" json:"planned_end_dts,omitempty"`
	IsActive         bool       `gorm:"column:is_active;not null" json:"is_active"`
	CreatedUser      string     `gorm:"column:created_user;size:100" json:"created_user"`
	UpdatedUser      string     `gorm:"column:updated_user;size:100" json:"updated_user,omitempty"`
}

// FactHeader is one synchronized outage. (ChannelKey, IncidentID) is unique.
type FactHeader struct {
	HeaderKey        int64      `gorm:"column:cutting_down_key;primaryKey;autoIncrement:false" json:"header_key"`
	ChannelKey       int64      `gorm:"column:channel_key;not null;uniqueIndex:ux_header_channel_incident,priority:1" json:"channel_key"`
	IncidentID       int64      `gorm:"column:cutting_down_incident_id;not null;uniqueIndex:ux_header_channel_incident,priority:2" json:"incident_id"`
	ProblemTypeKey   *int64     `gorm:"column:cutting_down_problem_type_key" json:"problem_type_key,omitempty"`
	ActualCreateDate *time.Time `gorm:"column:actual_create_date" json:"actual_create_date,omitempty"`
	ActualEndDate    *time.Time `gorm:"column:actual_end_date" json:"actual_end_date,omitempty"`
	SynchCreateDate  *time.Time `gorm:"column:synch_create_date" json:"synch_create_date,omitempty"`
	SynchUpdateDate  *time.Time `gorm:"column:synch_update_date" json:"synch_update_date,omitempty"`
	IsPlanned        bool       `gorm:"column:is_planned;not null" json:"is_planned"`
	IsGlobal         bool       `gorm:"column:is_global;not null" json:"is_global"`
	PlannedStartDate *time.Time `gorm:"column:planned_start_dts" json:"planned_start_dts,omitempty"`
	PlannedEndDate   *time.Time `gorm:"column:planned_end_dts" json:"planned_end_dts,omitempty"`
	IsActive         bool       `gorm:"column:is_active;not null" json:"is_active"`
	CreateUserKey    *int64     `gorm:"column:create_system_user_id" json:"create_system_user_id,omitempty"`
	UpdateUserKey    *int64     `gorm:"column:update_system_user_id" json:"update_system_user_id,omitempty"`
}

// FactDetail ties a header to the network element it affects. HeaderKey is
// indexed but deliberately not unique.
type FactDetail struct {
	DetailKey         int64      `gorm:"column:cutting_down_detail_key;primaryKey;autoIncrement:false" json:"detail_key"`
	HeaderKey         int64      `gorm:"column:cutting_down_key;not null;index:ix_detail_header" json:"header_key"`
	NetworkElementKey *int64     `gorm:"column:network_element_key" json:"network_element_key,omitempty"`
	ActualCreateDate  *time.Time `gorm:"column:actual_create_date" json:"actual_create_date,omitempty"`
	ActualEndDate     *time.Time `gorm:"column:actual_end_date" json:"actual_end_date,omitempty"`
	ImpactedCustomers int        `gorm:"column:impacted_customers;not null" json:"impacted_customers"`
}

// NetworkElement is a node of the electricity topology.
type NetworkElement struct {
	Key       int64  `gorm:"column:network_element_key;primaryKey;autoIncrement:false" json:"key"`
	Name      string `gorm:"column:network_element_name;size:100;not null" json:"name"`
	TypeKey   int64  `gorm:"column:network_element_type_key;not null;index:ix_element_type" json:"type_key"`
	ParentKey *int64 `gorm:"column:parent_network_element_key" json:"parent_key,omitempty"`
	IsActive  bool   `gorm:"column:is_active;not null" json:"is_active"`
}

// NetworkElementType names a level of the topology hierarchy.
type NetworkElementType struct {
	Key           int64  `gorm:"column:network_element_type_key;primaryKey;autoIncrement:false" json:"key"`
	Name          string `gorm:"column:network_element_type_name;size:50;not null" json:"name"`
	ParentTypeKey *int64 `gorm:"column:parent_network_element_type_key" json:"parent_type_key,omitempty"`
}

// Channel is a synchronization channel. Only Key and Name are persisted;
// the remaining fields describe how the channel maps onto its feed.
type Channel struct {
	Key  int64  `gorm:"column:channel_key;primaryKey;autoIncrement:false" json:"key"`
	Name string `gorm:"column:channel_name;size:50;not null" json:"name"`

	Source         string `gorm:"-" json:"source"`
	SourceTable    string `gorm:"-" json:"-"`
	ElementTypeKey int64  `gorm:"-" json:"element_type_key"`
	GeneratorKind  string `gorm:"-" json:"generator_kind"`
	SystemUserKey  int64  `gorm:"-" json:"-"`
	CreatedUser    string `gorm:"-" json:"-"`
}

// IgnoredOutage marks an incident id that operators chose to exclude.
type IgnoredOutage struct {
	IncidentID       int64      `gorm:"column:cutting_down_incident_id;primaryKey;autoIncrement:false" json:"incident_id"`
	ActualCreateDate *time.Time `gorm:"column:actual_create_date" json:"actual_create_date,omitempty"`
	SynchCreateDate  time.Time  `gorm:"column:synch_create_date" json:"synch_create_date"`
	CableName        string     `gorm:"column:cable_name;size:100" json:"cable_name,omitempty"`
	CabinName        string     `gorm:"column:cabin_name;size:100" json:"cabin_name,omitempty"`
	Reason           string     `gorm:"column:reason;size:500" json:"reason,omitempty"`
	CreatedUser      string     `gorm:"column:created_user;size:100" json:"created_user"`
}

// TableName overrides for explicit table naming
func (FactHeader) TableName() string {
	return "cutting_down_header"
}

func (FactDetail) TableName() string {
	return "cutting_down_detail"
}

func (NetworkElement) TableName() string {
	return "network_element"
}

func (NetworkElementType) TableName() string {
	return "network_element_type"
}

func (Channel) TableName() string {
	return "channel"
}

func (IgnoredOutage) TableName() string {
	return "cutting_down_ignored"
}

var channels = []Channel{
	{
		Key:            1,
		Name:           "Cabin",
		Source:         "A",
		SourceTable:    SourceTableA,
		ElementTypeKey: ElementTypeCabin,
		GeneratorKind:  "cabin",
		SystemUserKey:  3,
		CreatedUser:    "SourceA",
	},
	{
		Key:            2,
		Name:           "Cable",
		Source:         "B",
		SourceTable:    SourceTableB,
		ElementTypeKey: ElementTypeCable,
		GeneratorKind:  "cable",
		SystemUserKey:  4,
		CreatedUser:    "SourceB",
	},
}

// Channels returns the configured synchronization channels in key order.
func Channels() []Channel {
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

// ChannelBySource resolves a feed identifier ("A"/"B", case-insensitive).
func ChannelBySource(source string) (Channel, bool) {
	source = strings.TrimSpace(source)
	for _, ch := range channels {
		if strings.EqualFold(ch.Source, source) {
			return ch, true
		}
	}
	return Channel{}, false
}

// ChannelByKind resolves a generator kind ("cabin"/"cable", case-insensitive).
func ChannelByKind(kind string) (Channel, bool) {
	for _, ch := range channels {
		if strings.EqualFold(ch.GeneratorKind, kind) {
			return ch, true
		}
	}
	return Channel{}, false
}

// ChannelByKey resolves a channel by its persisted key.
func ChannelByKey(key int64) (Channel, bool) {
	for _, ch := range channels {
		if ch.Key == key {
			return ch, true
		}
	}
	return Channel{}, false
}
