package ledger

import (
	"math"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/models"
)

// Absorbs float noise such as 4.2*1000 landing on 4199.999...
const costEpsilon = 1e-9

// HoldAmount is the amount reserved before a request starts.
func HoldAmount(price config.ModelPrice, multiplier float64) int64 {
	scaled := int64(math.Ceil(float64(price.BaseCost)*multiplier - costEpsilon))
	return max(scaled, price.BaseCost)
}

// FloorCost is the minimum a successful request is charged.
func FloorCost(price config.ModelPrice, minCharge int64) int64 {
	return max(price.BaseCost, minCharge)
}

// UsageCost converts reported usage into points. A provider-reported price
// wins over token-based pricing. Fractions are truncated.
func UsageCost(usage models.Usage, price config.ModelPrice, usdToPoints float64) int64 {
	var points float64
	if usage.TotalPrice != nil {
		points = *usage.TotalPrice * usdToPoints
	} else {
		points = float64(usage.InputTokens)*price.InputCostPer1K/1000 +
			float64(usage.OutputTokens)*price.OutputCostPer1K/1000
	}
	if points <= 0 {
		return 0
	}
	return int64(math.Floor(points + costEpsilon))
}

// ActualCost is what a successful request settles at.
func ActualCost(usage models.Usage, price config.ModelPrice, p config.Pricing) int64 {
	return max(UsageCost(usage, price, p.USDToPoints), FloorCost(price, p.MinPointsCharge))
}
