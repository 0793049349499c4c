package payments

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout accepted by `uplas seed-plans`:
//
//	plans:
//	  - name: Basic Monthly
//	    external_price_id: price_basic_m
//	    price: "9.99"
//	    currency: USD
//	    billing_cycle: monthly
//	    features: {max_courses: 5, support: email}
//	    active: true
//	    display_order: 1
type seedFile struct {
	Plans []seedPlan `yaml:"plans"`
}

type seedPlan struct {
	Name            string         `yaml:"name"`
	ExternalPriceID string         `yaml:"external_price_id"`
	Price           string         `yaml:"price"`
	Currency        string         `yaml:"currency"`
	BillingCycle    string         `yaml:"billing_cycle"`
	Features        map[string]any `yaml:"features"`
	Active          *bool          `yaml:"active"`
	DisplayOrder    int            `yaml:"display_order"`
}

// LoadPlanSeed parses a plan catalog. Plans are active unless stated.
func LoadPlanSeed(r io.Reader) ([]PlanInput, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: plan seed: %v", ErrInvalidArgument, err)
	}

	out := make([]PlanInput, 0, len(f.Plans))
	for i, p := range f.Plans {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: plan seed entry %d (%s): price %q", ErrInvalidArgument, i, p.Name, p.Price)
		}
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		out = append(out, PlanInput{
			Name:            p.Name,
			ExternalPriceID: p.ExternalPriceID,
			Price:           price,
			Currency:        p.Currency,
			BillingCycle:    BillingCycle(p.BillingCycle),
			Features:        p.Features,
			IsActive:        active,
			DisplayOrder:    p.DisplayOrder,
		})
	}
	return out, nil
}
