package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWelfordEmptyReportsZero(t *testing.T) {
	var w welford
	mean, variance := w.get()
	assert.Zero(t, mean)
	assert.Zero(t, variance)
}

func TestWelfordSingleSampleHasZeroVariance(t *testing.T) {
	var w welford
	w.update(42)
	mean, variance := w.get()
	assert.Equal(t, 42.0, mean)
	assert.Zero(t, variance)
}

func TestWelfordMatchesNaiveMeanAndVariance(t *testing.T) {
	samples := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	var w welford
	for _, s := range samples {
		w.update(s)
	}
	mean, variance := w.get()

	var sum float64
	for _, s := range samples {
		sum += s
	}
	naiveMean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		sq += (s - naiveMean) * (s - naiveMean)
	}
	naiveVariance := sq / float64(len(samples)-1) // sample (Bessel-corrected) variance

	assert.InDelta(t, naiveMean, mean, 1e-9)
	assert.InDelta(t, naiveVariance, variance, 1e-9)
}
