package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sta-electricity/outagesync/internal/database"

	"gorm.io/gorm"
)

// ElementNode is one node of the topology tree returned by Hierarchy.
type ElementNode struct {
	Key         int64         `json:"key"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	IsActive    bool          `json:"is_active"`
	HasChildren bool          `json:"has_children"`
	Children    []ElementNode `json:"children"`
}

// ElementFilter narrows Search. Zero values mean "any".
type ElementFilter struct {
	Term     string
	TypeKey  int64
	IsActive *bool
}

// NetworkElementService reads the network_element topology.
type NetworkElementService struct {
	db *gorm.DB
}

// NewNetworkElementService creates a new network element service
func NewNetworkElementService(db *gorm.DB) *NetworkElementService {
	return &NetworkElementService{db: db}
}

// Hierarchy returns every element as a forest rooted at the elements
// without a parent. Siblings are ordered by name.
func (s *NetworkElementService) Hierarchy(ctx context.Context) ([]ElementNode, error) {
	db := s.db.WithContext(ctx)

	var elements []database.NetworkElement
	if err := db.Order("network_element_name ASC").Order("network_element_key ASC").Find(&elements).Error; err != nil {
		return nil, fmt.Errorf("failed to load network elements: %w", err)
	}
	typeNames, err := s.typeNames(db)
	if err != nil {
		return nil, err
	}

	known := make(map[int64]bool, len(elements))
	for _, el := range elements {
		known[el.Key] = true
	}

	// Elements whose parent row is missing are shown as roots.
	children := make(map[int64][]database.NetworkElement)
	var roots []database.NetworkElement
	for _, el := range elements {
		if el.ParentKey == nil || !known[*el.ParentKey] || *el.ParentKey == el.Key {
			roots = append(roots, el)
			continue
		}
		children[*el.ParentKey] = append(children[*el.ParentKey], el)
	}

	visited := make(map[int64]bool, len(elements))
	var build func(el database.NetworkElement) ElementNode
	build = func(el database.NetworkElement) ElementNode {
		visited[el.Key] = true
		node := ElementNode{
			Key:      el.Key,
			Name:     el.Name,
			Type:     typeNames[el.TypeKey],
			IsActive: el.IsActive,
			Children: []ElementNode{},
		}
		for _, child := range children[el.Key] {
			if visited[child.Key] {
				continue
			}
			node.Children = append(node.Children, build(child))
		}
		node.HasChildren = len(node.Children) > 0
		return node
	}

	tree := make([]ElementNode, 0, len(roots))
	for _, root := range roots {
		tree = append(tree, build(root))
	}

	// Parent cycles never reach a root; surface them at the top level.
	for _, el := range elements {
		if !visited[el.Key] {
			tree = append(tree, build(el))
		}
	}
	sort.SliceStable(tree, func(i, j int) bool { return tree[i].Name < tree[j].Name })
	return tree, nil
}

// Get returns the element with key.
func (s *NetworkElementService) Get(ctx context.Context, key int64) (*database.NetworkElement, error) {
	var el database.NetworkElement
	err := s.db.WithContext(ctx).Where("network_element_key = ?", key).Take(&el).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrElementNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get network element %d: %w", key, err)
	}
	return &el, nil
}

// Children returns the direct children of parentKey ordered by name.
func (s *NetworkElementService) Children(ctx context.Context, parentKey int64) ([]database.NetworkElement, error) {
	if _, err := s.Get(ctx, parentKey); err != nil {
		return nil, err
	}

	var items []database.NetworkElement
	err := s.db.WithContext(ctx).
		Where("parent_network_element_key = ?", parentKey).
		Order("network_element_name ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %d: %w", parentKey, err)
	}
	return items, nil
}

// Search returns one page of elements matching f, ordered by name, and the total.
func (s *NetworkElementService) Search(ctx context.Context, f ElementFilter, offset, limit int) ([]database.NetworkElement, int64, error) {
	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&database.NetworkElement{})
		if f.Term != "" {
			q = q.Where("LOWER(network_element_name) LIKE ?", "%"+strings.ToLower(f.Term)+"%")
		}
		if f.TypeKey > 0 {
			q = q.Where("network_element_type_key = ?", f.TypeKey)
		}
		if f.IsActive != nil {
			q = q.Where("is_active = ?", *f.IsActive)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count network elements: %w", err)
	}

	var items []database.NetworkElement
	err := filtered().Order("network_element_name ASC").
		Order("network_element_key ASC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search network elements: %w", err)
	}
	return items, total, nil
}

func (s *NetworkElementService) typeNames(db *gorm.DB) (map[int64]string, error) {
	var types []database.NetworkElementType
	if err := db.Find(&types).Error; err != nil {
		return nil, fmt.Errorf("failed to load element types: %w", err)
	}
	names := make(map[int64]string, len(types))
	for _, t := range types {
		names[t.Key] = t.Name
	}
	return names, nil
}
