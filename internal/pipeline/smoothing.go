package pipeline

import (
	"errors"
	"fmt"
	"math"
)

// Smoother fits a forecasting model to an ordered series.
type Smoother interface {
	Fit(series []float64) (Model, error)
}

type Model interface {
	ForecastNext() float64
}

// SimpleExpSmoothing fits single exponential smoothing by least squares over
// the one-step-ahead errors. Both the smoothing level alpha (in [0,1]) and the
// initial level are estimated.
type SimpleExpSmoothing struct{}

type SESModel struct {
	Alpha        float64
	InitialLevel float64
	Level        float64
	SSE          float64
}

func (m SESModel) ForecastNext() float64 { return m.Level }

const (
	alphaGridStep  = 0.01
	goldenTol      = 1e-9
	sseRelTol      = 1e-12
	goldenMaxSteps = 200
)

func (SimpleExpSmoothing) Fit(series []float64) (Model, error) {
	if len(series) == 0 {
		return nil, errors.New("cannot fit an empty series")
	}
	for i, y := range series {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, fmt.Errorf("series value %d is not finite", i)
		}
	}

	steps := int(math.Round(1 / alphaGridStep))
	grid := make([]SESModel, 0, steps+1)
	minSSE := math.Inf(1)
	for i := 0; i <= steps; i++ {
		m := fitAlpha(series, float64(i)*alphaGridStep)
		grid = append(grid, m)
		minSSE = math.Min(minSSE, m.SSE)
	}
	// Among equally good fits take the largest alpha, so a pure trend
	// tracks its latest level instead of its mean.
	var best SESModel
	for _, m := range grid {
		if !clearlyWorse(m.SSE, minSSE) {
			best = m
		}
	}

	lo := math.Max(0, best.Alpha-alphaGridStep)
	hi := math.Min(1, best.Alpha+alphaGridStep)
	if refined := goldenSection(series, lo, hi); clearlyWorse(best.SSE, refined.SSE) {
		best = refined
	}
	return best, nil
}

// clearlyWorse reports whether sse exceeds ref by more than a relative tolerance.
func clearlyWorse(sse, ref float64) bool {
	return sse-ref > sseRelTol*math.Max(1, math.Abs(ref))
}

// fitAlpha solves for the initial level that minimizes SSE at a fixed alpha.
// The prediction for y_t is b_t*l0 + c_t with b_t = (1-alpha)^(t-1), so the
// optimum is l0 = sum(b_t*(y_t-c_t)) / sum(b_t^2).
func fitAlpha(series []float64, alpha float64) SESModel {
	var num, den float64
	b, c := 1.0, 0.0
	for _, y := range series {
		num += b * (y - c)
		den += b * b
		c = alpha*y + (1-alpha)*c
		b *= 1 - alpha
	}
	l0 := 0.0
	if den > 0 {
		l0 = num / den
	}

	level, sse := l0, 0.0
	for _, y := range series {
		e := y - level
		sse += e * e
		level = alpha*y + (1-alpha)*level
	}
	return SESModel{Alpha: alpha, InitialLevel: l0, Level: level, SSE: sse}
}

func goldenSection(series []float64, lo, hi float64) SESModel {
	ratio := (math.Sqrt(5) - 1) / 2
	x1 := hi - ratio*(hi-lo)
	x2 := lo + ratio*(hi-lo)
	f1, f2 := fitAlpha(series, x1), fitAlpha(series, x2)
	for i := 0; i < goldenMaxSteps && hi-lo > goldenTol; i++ {
		if f1.SSE <= f2.SSE {
			hi, x2, f2 = x2, x1, f1
			x1 = hi - ratio*(hi-lo)
			f1 = fitAlpha(series, x1)
		} else {
			lo, x1, f1 = x1, x2, f2
			x2 = lo + ratio*(hi-lo)
			f2 = fitAlpha(series, x2)
		}
	}
	if f1.SSE <= f2.SSE {
		return f1
	}
	return f2
}
