package database

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TopologySeed is the YAML layout of a topology seed file:
//
//	elements:
//	  - key: 10
//	    name: Cabin_0001
//	    type: 6
//	    parent: 5
//	    active: true
type TopologySeed struct {
	Elements []SeedElement `yaml:"elements"`
}

// SeedElement is one network element in a seed file. Active defaults to true.
type SeedElement struct {
	Key    int64  `yaml:"key"`
	Name   string `yaml:"name"`
	Type   int64  `yaml:"type"`
	Parent *int64 `yaml:"parent,omitempty"`
	Active *bool  `yaml:"active,omitempty"`
}

// ParseTopologySeed decodes and validates seed YAML.
func ParseTopologySeed(data []byte) (*TopologySeed, error) {
	var seed TopologySeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse topology seed: %w", err)
	}

	seen := make(map[int64]bool, len(seed.Elements))
	for i, el := range seed.Elements {
		if el.Key <= 0 {
			return nil, fmt.Errorf("topology seed element %d: key must be positive", i)
		}
		if seen[el.Key] {
			return nil, fmt.Errorf("topology seed element %d: duplicate key %d", i, el.Key)
		}
		if el.Type < ElementTypeGovernrate || el.Type > ElementTypeFlat {
			return nil, fmt.Errorf("topology seed element %d: unknown type %d", i, el.Type)
		}
		seen[el.Key] = true
	}
	return &seed, nil
}

// LoadTopologySeed reads a seed file and inserts its elements, skipping
// keys that already exist. Returns the number of elements in the file.
func LoadTopologySeed(db *gorm.DB, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read topology seed %s: %w", path, err)
	}
	seed, err := ParseTopologySeed(data)
	if err != nil {
		return 0, err
	}
	if err := ApplyTopologySeed(db, seed); err != nil {
		return 0, err
	}
	log.Printf("Loaded %d network elements from %s", len(seed.Elements), path)
	return len(seed.Elements), nil
}

// ApplyTopologySeed inserts seed elements, leaving existing keys untouched.
func ApplyTopologySeed(db *gorm.DB, seed *TopologySeed) error {
	if len(seed.Elements) == 0 {
		return nil
	}
	rows := make([]NetworkElement, 0, len(seed.Elements))
	for _, el := range seed.Elements {
		active := true
		if el.Active != nil {
			active = *el.Active
		}
		rows = append(rows, NetworkElement{
			Key:       el.Key,
			Name:      el.Name,
			TypeKey:   el.Type,
			ParentKey: el.Parent,
			IsActive:  active,
		})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("failed to insert network elements: %w", err)
	}
	return nil
}
