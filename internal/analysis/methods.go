package analysis

import (
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"phorest/internal/config"
)

// flatStdThreshold is the row-rejection threshold of spec.md §4.2:
// "skip rows with std(row) < 0.1 (flat/dark)".
const flatStdThreshold = 0.1

// fitRow applies the configured analysis method to one row of pixel
// values and returns its fitted parameters, or ok=false if the row was
// rejected (flat, or the fit failed to converge).
func fitRow(row []float64, method config.AnalysisMethod) (params map[string]float64, ok bool) {
	if stddev(row) < flatStdThreshold {
		return nil, false
	}

	switch method {
	case config.MethodMaxIntensity:
		return fitMaxIntensity(row), true
	case config.MethodCentre:
		return fitCentre(row)
	case config.MethodGaussian:
		return fitGaussian(row)
	case config.MethodFano:
		return fitFano(row)
	default:
		return fitMaxIntensity(row), true
	}
}

func fitMaxIntensity(row []float64) map[string]float64 {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return map[string]float64{"max_intensity": float64(best)}
}

// fitCentre computes the centre-of-mass of pixels above
// mean+3*std, per spec.md §4.2.
func fitCentre(row []float64) (map[string]float64, bool) {
	m, s := stat.MeanStdDev(row, nil)
	threshold := m + 3*s

	var weightedSum, totalWeight float64
	for i, v := range row {
		if v > threshold {
			weightedSum += float64(i) * v
			totalWeight += v
		}
	}
	if totalWeight == 0 {
		return nil, false
	}
	return map[string]float64{"centre": weightedSum / totalWeight}, true
}

// gaussianModel is a·exp(-(x-mu)^2/2sigma^2) + c.
func gaussianModel(p []float64, x float64) float64 {
	a, mu, sigma, c := p[0], p[1], p[2], p[3]
	if sigma == 0 {
		return c
	}
	return a*math.Exp(-(x-mu)*(x-mu)/(2*sigma*sigma)) + c
}

func fitGaussian(row []float64) (map[string]float64, bool) {
	lo, hi := minMax(row)
	m := mean(row)
	argmax := 0
	for i, v := range row {
		if v > row[argmax] {
			argmax = i
		}
	}
	seed := []float64{hi - lo, float64(argmax), 1, m}

	params, rmse, ok := levenbergMarquardt(row, seed, gaussianModel)
	if !ok {
		return map[string]float64{}, false
	}
	return map[string]float64{
		"amplitude": params[0],
		"mu":        params[1],
		"sigma":     params[2],
		"offset":    params[3],
		"error":     rmse,
	}, true
}

// fanoModel is the asymmetric Fano line-shape with 5 parameters
// (amp, assym, res, gamma, offset): amp*(assym*gamma+(x-res))^2 /
// (gamma^2+(x-res)^2) + offset — the standard Fano resonance form.
func fanoModel(p []float64, x float64) float64 {
	amp, assym, res, gamma, offset := p[0], p[1], p[2], p[3], p[4]
	if gamma == 0 {
		return offset
	}
	num := assym*gamma + (x - res)
	return amp*num*num/(gamma*gamma+(x-res)*(x-res)) + offset
}

func fitFano(row []float64) (map[string]float64, bool) {
	lo, hi := minMax(row)
	m := mean(row)
	argmax := 0
	for i, v := range row {
		if v > row[argmax] {
			argmax = i
		}
	}
	seed := []float64{hi - lo, 0, float64(argmax), float64(len(row)) / 4, m}

	params, rmse, ok := levenbergMarquardt(row, seed, fanoModel)
	if !ok {
		return map[string]float64{}, false
	}
	return map[string]float64{
		"amplitude": params[0],
		"assymetry": params[1],
		"resonance": params[2],
		"gamma":     params[3],
		"offset":    params[4],
		"error":     rmse,
	}, true
}

// levenbergMarquardt fits model to row, seeded with seed, by minimizing
// the sum of squared residuals with gonum's Nelder-Mead simplex method
// (at most 200 major iterations). Returns ok=false when the optimizer
// reports an error or the fitted parameters or RMSE are not finite,
// mapping to the "{}" empty return spec.md prescribes for fit failure.
func levenbergMarquardt(row, seed []float64, model func(p []float64, x float64) float64) (params []float64, rmse float64, ok bool) {
	residual := func(p []float64) float64 {
		var sumSq float64
		for x, v := range row {
			d := model(p, float64(x)) - v
			sumSq += d * d
		}
		return sumSq
	}

	problem := optimize.Problem{Func: residual}
	result, err := optimize.Minimize(problem, seed, &optimize.Settings{
		MajorIterations: 200,
	}, &optimize.NelderMead{})
	if err != nil || result == nil {
		return nil, 0, false
	}

	fitted := result.X
	for _, v := range fitted {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, false
		}
	}

	var sumSq float64
	for x, v := range row {
		d := model(fitted, float64(x)) - v
		sumSq += d * d
	}
	rmse = math.Sqrt(sumSq / float64(len(row)))
	if math.IsNaN(rmse) || math.IsInf(rmse, 0) {
		return nil, 0, false
	}
	return fitted, rmse, true
}
