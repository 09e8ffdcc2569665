package task

import "math"

// baseCost is the per-mode algorithmic-unit cost before multipliers.
var baseCost = map[Mode]float64{
	ModeHeadSwap:         40,
	ModeBackgroundChange: 30,
	ModePoseChange:       50,
}

var qualityMultiplier = map[string]float64{
	"standard": 1.0,
	"high":     1.5,
	"ultra":    2.0,
}

var sizeMultiplier = map[string]float64{
	"small":  1.0,
	"medium": 1.2,
	"large":  1.5,
	"xlarge": 2.0,
}

const (
	defaultQuality = "standard"
	defaultSize    = "medium"
)

// CreditCost computes ceil(base[mode] * quality_mult[quality] * size_mult[size]).
// Unrecognized quality/size values fall back to their defaults rather than
// erroring, since the formula is pricing, not input validation (that
// happens in the pipeline layer).
func CreditCost(mode Mode, quality, size string) int {
	base, ok := baseCost[mode]
	if !ok {
		return 0
	}

	qMult, ok := qualityMultiplier[quality]
	if !ok {
		qMult = qualityMultiplier[defaultQuality]
	}

	sMult, ok := sizeMultiplier[size]
	if !ok {
		sMult = sizeMultiplier[defaultSize]
	}

	return int(math.Ceil(base * qMult * sMult))
}
