package analysis

import (
	"errors"
	"math"
	"sort"

	"github.com/maltedev/price-aggregator/internal/models"
)

var ErrNoPriceHistory = errors.New("no price history")

type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionWait Action = "wait"
)

const (
	// trendThreshold is the relative change between the first and last
	// thirds of the series that counts as a trend.
	trendThreshold = 0.05
	// discountThreshold is how far below the average the latest price must
	// sit to count as discounted.
	discountThreshold = 0.05
	// volatilityThreshold is the coefficient of variation, in percent,
	// above which the series is flagged as volatile.
	volatilityThreshold = 20.0
)

const (
	reasonRising     = "価格が上昇傾向にあるため、早めの購入をおすすめします"
	reasonFalling    = "価格が下落傾向にあるため、購入を待つことをおすすめします"
	reasonStable     = "価格は安定しています"
	reasonDiscounted = "現在の価格が平均を5%以上下回っています"
	reasonVolatile   = "価格変動が大きいため、購入を慎重に"
)

type Recommendation struct {
	Action  Action   `json:"action" yaml:"action"`
	Reasons []string `json:"reasons" yaml:"reasons"`
}

type PriceAnalysis struct {
	Count   int     `json:"count" yaml:"count"`
	Lowest  float64 `json:"lowest" yaml:"lowest"`
	Highest float64 `json:"highest" yaml:"highest"`
	Average float64 `json:"average" yaml:"average"`
	Median  float64 `json:"median" yaml:"median"`
	Latest  float64 `json:"latest" yaml:"latest"`
	// Volatility is the coefficient of variation in percent.
	Volatility     float64        `json:"volatility" yaml:"volatility"`
	Trend          Trend          `json:"trend" yaml:"trend"`
	Discounted     bool           `json:"discounted" yaml:"discounted"`
	Recommendation Recommendation `json:"recommendation" yaml:"recommendation"`
}

type AnalyzeOptions struct {
	// UseTotal analyzes total_price instead of price.
	UseTotal bool
}

// Analyze summarizes a price history. Observations are put in chronological
// order first; entries with equal timestamps keep their input order.
func Analyze(observations []models.PriceObservation, opts AnalyzeOptions) (*PriceAnalysis, error) {
	if len(observations) == 0 {
		return nil, ErrNoPriceHistory
	}

	ordered := make([]models.PriceObservation, len(observations))
	copy(ordered, observations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ObservedAt.Before(ordered[j].ObservedAt)
	})

	series := make([]float64, len(ordered))
	for i, o := range ordered {
		if opts.UseTotal {
			series[i] = o.TotalPrice
		} else {
			series[i] = o.Price
		}
	}

	return AnalyzeSeries(series), nil
}

// AnalyzeSeries is Analyze over a bare, chronologically ordered, non-empty series.
func AnalyzeSeries(series []float64) *PriceAnalysis {
	a := &PriceAnalysis{
		Count:   len(series),
		Lowest:  series[0],
		Highest: series[0],
		Latest:  series[len(series)-1],
	}

	sum := 0.0
	for _, p := range series {
		a.Lowest = math.Min(a.Lowest, p)
		a.Highest = math.Max(a.Highest, p)
		sum += p
	}
	a.Average = sum / float64(len(series))
	a.Median = median(series)
	a.Volatility = coefficientOfVariation(series, a.Average)
	a.Trend = ClassifyTrend(series)
	a.Discounted = a.Latest < (1-discountThreshold)*a.Average
	a.Recommendation = recommend(a)

	return a
}

// ClassifyTrend compares the average of the first third of the series with
// the average of the last third. Windows are len/3 long, at least one.
func ClassifyTrend(series []float64) Trend {
	if len(series) == 0 {
		return TrendStable
	}

	window := len(series) / 3
	if window < 1 {
		window = 1
	}

	first := mean(series[:window])
	last := mean(series[len(series)-window:])

	switch {
	case last <= (1-trendThreshold)*first:
		return TrendFalling
	case last >= (1+trendThreshold)*first:
		return TrendRising
	default:
		return TrendStable
	}
}

func recommend(a *PriceAnalysis) Recommendation {
	r := Recommendation{Action: ActionWait}

	switch a.Trend {
	case TrendRising:
		r.Action = ActionBuy
		r.Reasons = append(r.Reasons, reasonRising)
	case TrendFalling:
		r.Reasons = append(r.Reasons, reasonFalling)
	default:
		r.Reasons = append(r.Reasons, reasonStable)
		if a.Discounted {
			r.Action = ActionBuy
		}
	}

	if a.Discounted {
		r.Reasons = append(r.Reasons, reasonDiscounted)
	}
	if a.Volatility > volatilityThreshold {
		r.Reasons = append(r.Reasons, reasonVolatile)
	}
	return r
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func coefficientOfVariation(values []float64, avg float64) float64 {
	if avg == 0 || len(values) < 2 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		d := v - avg
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / avg * 100
}
