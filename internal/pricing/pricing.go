// Package pricing resolves the per-liter price applied to a dispense.
package pricing

import (
	"context"
	"math"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"

	"github.com/pkg/errors"
)

// Source says which level of the lookup produced a quote
type Source string

const (
	SourceDevice  Source = "device"
	SourceOwner   Source = "owner"
	SourceDefault Source = "default"
)

// PriceFinder looks up the newest price row effective at a time
type PriceFinder interface {
	FindEffectivePrice(ctx context.Context, deviceID uint, ownerID *uint, at time.Time) (*models.Price, error)
}

// Quote is a resolved price
type Quote struct {
	PricePerLiter float64
	CostPerLiter  float64
	Currency      string
	Source        Source
}

// Resolver applies device price, then owner price, then the configured default
type Resolver struct {
	prices   PriceFinder
	defaults config.PricingConfig
}

func NewResolver(prices PriceFinder, defaults config.PricingConfig) *Resolver {
	return &Resolver{prices: prices, defaults: defaults}
}

// Resolve returns the quote in force for the device at the given time
func (r *Resolver) Resolve(ctx context.Context, device *models.Device, at time.Time) (Quote, error) {
	p, err := r.prices.FindEffectivePrice(ctx, device.ID, device.OwnerID, at)
	switch {
	case err == nil:
		q := Quote{
			PricePerLiter: p.PricePerLiter,
			CostPerLiter:  p.CostPerLiter,
			Currency:      p.Currency,
			Source:        SourceOwner,
		}
		if p.DeviceID != nil {
			q.Source = SourceDevice
		}
		if q.Currency == "" {
			q.Currency = r.defaults.Currency
		}
		return q, nil
	case errors.Is(err, repository.ErrNotFound):
		return r.Default(), nil
	default:
		return Quote{}, errors.Wrap(err, "resolve price")
	}
}

// Default is the configured fallback quote
func (r *Resolver) Default() Quote {
	return Quote{
		PricePerLiter: r.defaults.DefaultPricePerLiter,
		CostPerLiter:  r.defaults.DefaultCostPerLiter,
		Currency:      r.defaults.Currency,
		Source:        SourceDefault,
	}
}

// Totals computes the sale and profit for the liters at this quote, in currency cents precision
func (q Quote) Totals(liters float64) (totalCost, totalProfit float64) {
	return Round(liters * q.PricePerLiter), Round(liters * (q.PricePerLiter - q.CostPerLiter))
}

// Round rounds a money amount to two decimals
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}
