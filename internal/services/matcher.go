package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sta-electricity/outagesync/internal/database"

	"gorm.io/gorm"
)

// ElementIndex maps trimmed element names of one type to their keys.
// Built once per backfill so a batch never queries per row.
type ElementIndex struct {
	typeKey int64
	byName  map[string]int64
}

// NewElementIndex builds an index over elements of typeKey. Elements of
// other types are ignored. When several elements share a trimmed name the
// lowest key wins.
func NewElementIndex(typeKey int64, elements []database.NetworkElement) *ElementIndex {
	sorted := make([]database.NetworkElement, 0, len(elements))
	for _, el := range elements {
		if el.TypeKey == typeKey {
			sorted = append(sorted, el)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	idx := &ElementIndex{typeKey: typeKey, byName: make(map[string]int64, len(sorted))}
	for _, el := range sorted {
		name := strings.TrimSpace(el.Name)
		if name == "" {
			continue
		}
		if _, exists := idx.byName[name]; !exists {
			idx.byName[name] = el.Key
		}
	}
	return idx
}

// TypeKey returns the element type the index covers.
func (idx *ElementIndex) TypeKey() int64 {
	return idx.typeKey
}

// Len returns the number of distinct names.
func (idx *ElementIndex) Len() int {
	return len(idx.byName)
}

// Match resolves a source element name. Comparison is on trimmed,
// case-sensitive text; blank names never match.
func (idx *ElementIndex) Match(name string) (int64, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}
	key, ok := idx.byName[name]
	return key, ok
}

// NetworkElementMatcher resolves free-text element names from the feeds
// against the reference topology.
type NetworkElementMatcher struct{}

// NewNetworkElementMatcher creates a new matcher
func NewNetworkElementMatcher() *NetworkElementMatcher {
	return &NetworkElementMatcher{}
}

// LoadIndex reads every element of typeKey into an ElementIndex.
func (m *NetworkElementMatcher) LoadIndex(ctx context.Context, db *gorm.DB, typeKey int64) (*ElementIndex, error) {
	var elements []database.NetworkElement
	err := db.WithContext(ctx).
		Where("network_element_type_key = ?", typeKey).
		Order("network_element_key ASC").
		Find(&elements).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load network elements of type %d: %w", typeKey, err)
	}
	return NewElementIndex(typeKey, elements), nil
}

// Match resolves a single name. nil means no element of typeKey carries it.
// It applies the same rules as ElementIndex.Match.
func (m *NetworkElementMatcher) Match(ctx context.Context, db *gorm.DB, name string, typeKey int64) (*int64, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	idx, err := m.LoadIndex(ctx, db, typeKey)
	if err != nil {
		return nil, err
	}
	if key, ok := idx.Match(name); ok {
		return &key, nil
	}
	return nil, nil
}
