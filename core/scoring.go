package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Criterion is one of the fixed attributes a tenant rates a property on.
type Criterion string

const (
	CriterionSquareMeters       Criterion = "square_meters"
	CriterionRooms              Criterion = "rooms"
	CriterionBathrooms          Criterion = "bathrooms"
	CriterionCondition          Criterion = "condition"
	CriterionAmenities          Criterion = "amenities"
	CriterionTouristAttractions Criterion = "tourist_attractions"
	CriterionPublicSpaces       Criterion = "public_spaces"
	CriterionTransitAccess      Criterion = "transit_access"
	CriterionCommercialAccess   Criterion = "commercial_access"
	CriterionEducationalAccess  Criterion = "educational_access"
)

// Criteria is the complete, ordered criterion set. Every score needs all of them.
var Criteria = []Criterion{
	CriterionSquareMeters,
	CriterionRooms,
	CriterionBathrooms,
	CriterionCondition,
	CriterionAmenities,
	CriterionTouristAttractions,
	CriterionPublicSpaces,
	CriterionTransitAccess,
	CriterionCommercialAccess,
	CriterionEducationalAccess,
}

const (
	MinRating = 1
	MaxRating = 5

	// criterionWeight is the factor applied to every rating. It is the same
	// for all criteria, so the score reduces to the mean rating over MaxRating.
	criterionWeight = 5
)

// CriteriaWeights maps each criterion to a Likert rating in [MinRating, MaxRating].
type CriteriaWeights map[Criterion]int

// Validate checks that every criterion is present and in range.
func (w CriteriaWeights) Validate() error {
	var missing []string
	for _, c := range Criteria {
		rating, ok := w[c]
		if !ok {
			missing = append(missing, string(c))
			continue
		}
		if rating < MinRating || rating > MaxRating {
			return fmt.Errorf("%w: rating for %s must be between %d and %d, got %d",
				ErrValidation, c, MinRating, MaxRating, rating)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCriteria, strings.Join(missing, ", "))
	}
	for c := range w {
		if !knownCriterion(c) {
			return fmt.Errorf("%w: unknown criterion %q", ErrValidation, c)
		}
	}
	return nil
}

// Score computes a tenant's match score for a property.
//
// Formula: sum(rating_i * 5) / sum(5) over all criteria, normalized by MaxRating
// into [0,1]. All ratings at 5 score 1.0, all at 1 score 0.2.
func Score(weights CriteriaWeights) (float64, error) {
	if err := weights.Validate(); err != nil {
		return 0, err
	}

	weight := decimal.NewFromInt(criterionWeight)
	totalScore := decimal.Zero
	totalWeight := decimal.Zero
	for _, c := range Criteria {
		totalScore = totalScore.Add(decimal.NewFromInt(int64(weights[c])).Mul(weight))
		totalWeight = totalWeight.Add(weight)
	}

	score, _ := totalScore.Div(totalWeight).Div(decimal.NewFromInt(MaxRating)).Float64()
	return score, nil
}

func knownCriterion(c Criterion) bool {
	for _, known := range Criteria {
		if c == known {
			return true
		}
	}
	return false
}
