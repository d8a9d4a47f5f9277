// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve registry counts for basic
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	protection countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the protection
// collection.
func NewStatsProvider(protection countCollection) *StatsProvider {
	return &StatsProvider{
		protection: protection,
	}
}

// CountRecords returns the total number of protection records.
func (p *StatsProvider) CountRecords(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.protection == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.protection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count protection records: %w", err)
	}

	return count, nil
}

// CountEnabled returns the number of protection records with enforcement on.
func (p *StatsProvider) CountEnabled(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.protection == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.protection.CountDocuments(ctx, bson.M{"enabled": true})
	if err != nil {
		return 0, fmt.Errorf("count enabled records: %w", err)
	}

	return count, nil
}
