package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RelationConfig points a relation column at rows of another table.
type RelationConfig struct {
	TargetTable   string `json:"targetTable"`
	DisplayField  string `json:"displayField"`
	AllowMultiple bool   `json:"allowMultiple"`
}

// LookupConfig mirrors TargetField from the row a sibling relation column points at.
type LookupConfig struct {
	RelationField string `json:"relationField"`
	TargetField   string `json:"targetField"`
}

// RollupConfig aggregates rows of SourceTable matched by FilterBy.
type RollupConfig struct {
	SourceTable      string       `json:"sourceTable"`
	FilterBy         RollupFilter `json:"filterBy"`
	Aggregation      string       `json:"aggregation"`
	AggregationField string       `json:"aggregationField,omitempty"`
}

// RollupFilter matches Field against MatchesValue, which may hold {{field}} templates.
type RollupFilter struct {
	Field        string          `json:"field"`
	MatchesValue any             `json:"matchesValue"`
	And          *RollupAndMatch `json:"and,omitempty"`
}

type RollupAndMatch struct {
	Field  string `json:"field"`
	Equals any    `json:"equals"`
}

// FormulaConfig is an expression over sibling fields.
type FormulaConfig struct {
	Formula    string `json:"formula"`
	ResultType string `json:"resultType"`
}

const (
	AggCount = "COUNT"
	AggSum   = "SUM"
	AggAvg   = "AVG"
	AggMin   = "MIN"
	AggMax   = "MAX"
)

// NormalizedAggregation upper-cases the aggregation and defaults to COUNT.
func (r RollupConfig) NormalizedAggregation() string {
	agg := strings.ToUpper(strings.TrimSpace(r.Aggregation))
	if agg == "" {
		return AggCount
	}
	return agg
}

// IsValidAggregation reports whether agg is one of the supported functions.
func IsValidAggregation(agg string) bool {
	switch agg {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

func (c *Column) RelationConfig() (RelationConfig, error) {
	var out RelationConfig
	err := decodeConfig(c.Config, &out)
	return out, err
}

func (c *Column) LookupConfig() (LookupConfig, error) {
	var out LookupConfig
	err := decodeConfig(c.Config, &out)
	return out, err
}

func (c *Column) RollupConfig() (RollupConfig, error) {
	var out RollupConfig
	err := decodeConfig(c.Config, &out)
	return out, err
}

func (c *Column) FormulaConfig() (FormulaConfig, error) {
	var out FormulaConfig
	err := decodeConfig(c.Config, &out)
	return out, err
}

func decodeConfig(cfg map[string]any, dst any) error {
	if cfg == nil {
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
