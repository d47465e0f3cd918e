package scoring

import "github.com/regioevents/dedupe/internal/model"

// DescriptionScore compares full descriptions, falling back to short
// descriptions when the full text is missing on either side.
func DescriptionScore(a, b model.Record) float64 {
	da, db := a.Description, b.Description
	if da == "" || db == "" {
		da, db = a.ShortDescription, b.ShortDescription
	}

	if da == "" && db == "" {
		return 0.5
	}
	if da == "" || db == "" {
		return 0.4
	}
	return tokenOrderRatio(da, db)
}
