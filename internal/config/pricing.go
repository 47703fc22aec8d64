package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelPrice is the point pricing of one model.
type ModelPrice struct {
	// BaseCost is the per-request floor and the basis of the pre-authorization hold.
	BaseCost int64 `yaml:"base_cost"`
	// Points per 1000 tokens.
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

// Pricing is the billing table used by the ledger.
type Pricing struct {
	USDToPoints         float64               `yaml:"usd_to_points"`
	PreChargeMultiplier float64               `yaml:"pre_charge_multiplier"`
	MinPointsCharge     int64                 `yaml:"min_points_charge"`
	Default             ModelPrice            `yaml:"default"`
	Models              map[string]ModelPrice `yaml:"models"`
}

// DefaultPricing returns the built-in billing table.
func DefaultPricing() Pricing {
	return Pricing{
		USDToPoints:         1000,
		PreChargeMultiplier: 1.2,
		MinPointsCharge:     1,
		Default:             ModelPrice{BaseCost: 3, InputCostPer1K: 1, OutputCostPer1K: 2},
		Models: map[string]ModelPrice{
			"gpt-4o-mini":       {BaseCost: 3, InputCostPer1K: 0.5, OutputCostPer1K: 2},
			"gpt-4o":            {BaseCost: 10, InputCostPer1K: 5, OutputCostPer1K: 15},
			"claude-3-5-haiku":  {BaseCost: 4, InputCostPer1K: 1, OutputCostPer1K: 5},
			"claude-3-5-sonnet": {BaseCost: 12, InputCostPer1K: 3, OutputCostPer1K: 15},
		},
	}
}

// LoadPricing reads a YAML pricing file layered over the defaults.
// An empty path returns the defaults.
func LoadPricing(path string) (Pricing, error) {
	p := DefaultPricing()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Pricing{}, fmt.Errorf("read pricing file: %w", err)
	}

	var file Pricing
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Pricing{}, fmt.Errorf("parse pricing file: %w", err)
	}

	if file.USDToPoints > 0 {
		p.USDToPoints = file.USDToPoints
	}
	if file.PreChargeMultiplier > 0 {
		p.PreChargeMultiplier = file.PreChargeMultiplier
	}
	if file.MinPointsCharge > 0 {
		p.MinPointsCharge = file.MinPointsCharge
	}
	if file.Default.BaseCost > 0 {
		p.Default = file.Default
	}
	for name, mp := range file.Models {
		p.Models[name] = mp
	}

	if err := p.Validate(); err != nil {
		return Pricing{}, err
	}
	return p, nil
}

// Validate rejects tables the ledger cannot bill with.
func (p Pricing) Validate() error {
	var errs []error
	if p.PreChargeMultiplier < 1 {
		errs = append(errs, fmt.Errorf("pre_charge_multiplier must be >= 1, got %v", p.PreChargeMultiplier))
	}
	if p.USDToPoints <= 0 {
		errs = append(errs, fmt.Errorf("usd_to_points must be > 0, got %v", p.USDToPoints))
	}
	if p.MinPointsCharge < 0 {
		errs = append(errs, fmt.Errorf("min_points_charge must be >= 0, got %d", p.MinPointsCharge))
	}
	for name, mp := range p.Models {
		if mp.BaseCost < 0 || mp.InputCostPer1K < 0 || mp.OutputCostPer1K < 0 {
			errs = append(errs, fmt.Errorf("model %s: negative price", name))
		}
	}
	return errors.Join(errs...)
}

// For returns the price of a model, falling back to the default entry.
func (p Pricing) For(model string) ModelPrice {
	if mp, ok := p.Models[model]; ok {
		return mp
	}
	return p.Default
}
