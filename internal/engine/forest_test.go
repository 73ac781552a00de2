package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsolationForestIdenticalRowsScoreHalf(t *testing.T) {
	data := make([][]float64, 50)
	for i := range data {
		data[i] = []float64{1, 0, 14, 3}
	}
	f := NewIsolationForest(50, 256, 7)
	f.Fit(data)
	assert.InDelta(t, 0.5, f.Score(data[0]), 1e-9)
}

func TestIsolationForestIsolatesOutlier(t *testing.T) {
	data := make([][]float64, 0, 64)
	for i := 0; i < 63; i++ {
		data = append(data, []float64{float64(i % 3), 20 + float64(i%5)})
	}
	outlier := []float64{40, 400}
	data = append(data, outlier)

	f := NewIsolationForest(100, 256, 42)
	f.Fit(data)
	assert.Greater(t, f.Score(outlier), f.Score(data[0]))
	assert.GreaterOrEqual(t, f.Score(outlier), 0.62)
}

func TestIsolationForestDeterministic(t *testing.T) {
	data := [][]float64{{1, 2}, {2, 3}, {3, 1}, {10, 12}, {2, 2}, {1, 1}}
	a := NewIsolationForest(30, 256, 99)
	b := NewIsolationForest(30, 256, 99)
	a.Fit(data)
	b.Fit(data)
	for _, row := range data {
		assert.Equal(t, a.Score(row), b.Score(row), "row %v", row)
	}
}

func TestIsolationForestUnfitted(t *testing.T) {
	f := NewIsolationForest(0, 0, 1)
	assert.Equal(t, 0.5, f.Score([]float64{1}))
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.Greater(t, averagePathLength(256), averagePathLength(16))
}
