package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	GroupAnd = "AND"
	GroupOr  = "OR"
)

// FilterGroup is a recursive AND/OR group of conditions and nested groups.
type FilterGroup struct {
	Operator   string       `json:"operator"`
	Conditions []FilterItem `json:"conditions"`
}

// FilterCondition compares one column against a value.
type FilterCondition struct {
	ID       string `json:"id,omitempty"`
	ColumnID string `json:"columnId"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// FilterItem holds exactly one of Group or Condition.
type FilterItem struct {
	Group     *FilterGroup
	Condition *FilterCondition
}

// SortConfig orders by one column.
type SortConfig struct {
	ColumnID  string `json:"columnId"`
	Direction string `json:"direction"`
}

// Desc reports whether the sort is descending.
func (s SortConfig) Desc() bool {
	return strings.EqualFold(s.Direction, "desc")
}

// IsOr reports whether the group joins its children with OR.
func (g *FilterGroup) IsOr() bool {
	return strings.EqualFold(g.Operator, GroupOr)
}

// NewGroup builds a group from items.
func NewGroup(op string, items ...FilterItem) *FilterGroup {
	return &FilterGroup{Operator: op, Conditions: items}
}

// Cond wraps a condition as a filter item.
func Cond(columnID, op string, value any) FilterItem {
	return FilterItem{Condition: &FilterCondition{ColumnID: columnID, Operator: op, Value: value}}
}

// Sub wraps a group as a filter item.
func Sub(g *FilterGroup) FilterItem {
	return FilterItem{Group: g}
}

func (i FilterItem) MarshalJSON() ([]byte, error) {
	if i.Group != nil {
		return json.Marshal(i.Group)
	}
	return json.Marshal(i.Condition)
}

// UnmarshalJSON treats any object carrying a "conditions" key as a nested group.
func (i *FilterItem) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return fmt.Errorf("filter item: %w", err)
	}
	if _, ok := probe["conditions"]; ok {
		var g FilterGroup
		if err := json.Unmarshal(b, &g); err != nil {
			return fmt.Errorf("filter group: %w", err)
		}
		i.Group = &g
		return nil
	}
	var c FilterCondition
	if err := json.Unmarshal(b, &c); err != nil {
		return fmt.Errorf("filter condition: %w", err)
	}
	i.Condition = &c
	return nil
}

// ReferencesColumn reports whether any condition in the tree uses columnID.
func (g *FilterGroup) ReferencesColumn(columnID string) bool {
	if g == nil {
		return false
	}
	for _, item := range g.Conditions {
		if item.Condition != nil && item.Condition.ColumnID == columnID {
			return true
		}
		if item.Group != nil && item.Group.ReferencesColumn(columnID) {
			return true
		}
	}
	return false
}
