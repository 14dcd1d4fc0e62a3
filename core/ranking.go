package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
)

// WeightsSource provides the ratings a tenant gave to a property.
// found is false when the tenant has not rated the property.
type WeightsSource interface {
	CriteriaWeights(ctx context.Context, tenantID, propertyID string) (weights CriteriaWeights, found bool, err error)
}

// RankProperties orders candidates for a tenant by match score, highest first.
//
// Processing flow:
//  1. Fetch the tenant's weights per candidate (unrated properties are skipped)
//  2. Score each rated property
//  3. Sort by score descending, breaking ties by property ID ascending
//
// Properties whose ratings are incomplete are left out rather than failing the
// whole ranking; store errors abort it.
func RankProperties(ctx context.Context, tenantID string, candidates []Property, source WeightsSource) ([]RankedProperty, error) {
	ranked := make([]RankedProperty, 0, len(candidates))

	for _, property := range candidates {
		weights, found, err := source.CriteriaWeights(ctx, tenantID, property.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load criteria for property %s: %w", property.ID, err)
		}
		if !found {
			continue
		}

		score, err := Score(weights)
		if err != nil {
			log.Printf("INFO: Skipping property %s in ranking for tenant %s: %v", property.ID, tenantID, err)
			continue
		}

		ranked = append(ranked, RankedProperty{Property: property, Score: score})
	}

	// Sort by score descending, ties by ID so equal scores rank the same on every call
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Property.ID < ranked[j].Property.ID
	})

	return ranked, nil
}

// ScoreProperty scores a single property for a tenant.
func ScoreProperty(ctx context.Context, tenantID, propertyID string, source WeightsSource) (float64, error) {
	weights, found, err := source.CriteriaWeights(ctx, tenantID, propertyID)
	if err != nil {
		return 0, fmt.Errorf("failed to load criteria: %w", err)
	}
	if !found {
		return 0, ErrCriteriaNotFound
	}
	score, err := Score(weights)
	if err != nil {
		if errors.Is(err, ErrMissingCriteria) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to score property %s: %w", propertyID, err)
	}
	return score, nil
}
