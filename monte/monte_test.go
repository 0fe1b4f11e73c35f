package monte

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanCIBracketsTheMean(t *testing.T) {
	m, err := NewMonte(1000, 12345)
	require.NoError(t, err)

	ci, err := m.MeanCI([]float64{0.5, 0.6, 0.7, 0.8})
	require.NoError(t, err)
	assert.InDelta(t, 0.65, ci.Mean, 1e-12)
	assert.LessOrEqual(t, ci.Low, ci.Mean)
	assert.GreaterOrEqual(t, ci.High, ci.Mean)
	assert.GreaterOrEqual(t, ci.Low, 0.5)
	assert.LessOrEqual(t, ci.High, 0.8)
	assert.Equal(t, 0.95, ci.Level)
	assert.Equal(t, 1000, ci.Resamples)
	assert.Equal(t, 4, ci.Used)
}

func TestResampleIsDeterministic(t *testing.T) {
	values := []float64{0.1, 0.4, 0.35, 0.9, 0.55}

	a, err := NewMonte(200, 7)
	require.NoError(t, err)
	a.Workers = 1
	b, err := NewMonte(200, 7)
	require.NoError(t, err)
	b.Workers = 8

	ma, err := a.Resample(values)
	require.NoError(t, err)
	mb, err := b.Resample(values)
	require.NoError(t, err)
	assert.Equal(t, ma, mb, "worker count must not change the draws")
	assert.Len(t, ma, 200)

	for _, v := range ma {
		assert.GreaterOrEqual(t, v, 0.1)
		assert.LessOrEqual(t, v, 0.9)
	}
}

func TestResampleDropsNonFinite(t *testing.T) {
	m, err := NewMonte(50, 1)
	require.NoError(t, err)

	ci, err := m.MeanCI([]float64{0.5, math.NaN(), 0.5, math.Inf(1), 0.5})
	require.NoError(t, err)
	assert.Equal(t, 3, ci.Used)
	assert.Equal(t, 0.5, ci.Low)
	assert.Equal(t, 0.5, ci.High)

	_, err = m.MeanCI([]float64{math.NaN()})
	assert.Error(t, err)
}

func TestMonteErrors(t *testing.T) {
	_, err := NewMonte(0, 1)
	assert.Error(t, err)

	var nilMonte *Monte
	_, err = nilMonte.Resample([]float64{1})
	assert.Error(t, err)

	m, err := NewMonte(10, 1)
	require.NoError(t, err)
	assert.Error(t, m.SetLevel(0))
	assert.Error(t, m.SetLevel(1))
	require.NoError(t, m.SetLevel(0.9))
	assert.Equal(t, 0.9, m.Level)
}
