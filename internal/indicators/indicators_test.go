package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/dyluth/cerebrum/internal/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func series(closes []float64) *marketdata.Series {
	s := &marketdata.Series{Ticker: "TEST"}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		s.Bars = append(s.Bars, marketdata.Bar{
			Time:   day.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000 + float64(i),
		})
	}
	return s
}

func TestSMA(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, []float64{2, 3, 4}, out[2:])

	assert.True(t, math.IsNaN(SMA([]float64{1, 2}, 0)[1]))
}

func TestEMA(t *testing.T) {
	out := EMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9, "seeded with the simple average")
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)

	t.Run("skips leading NaN", func(t *testing.T) {
		out := EMA([]float64{math.NaN(), 2, 4, 6}, 2)
		assert.True(t, math.IsNaN(out[1]))
		assert.InDelta(t, 3.0, out[2], 1e-9)
	})
}

func TestRSI(t *testing.T) {
	up := RSI(ramp(30, 10, 1), 14)
	assert.True(t, math.IsNaN(up[13]))
	assert.Equal(t, 100.0, up[29])

	down := RSI(ramp(30, 100, -1), 14)
	assert.InDelta(t, 0.0, down[29], 1e-9)

	flat := RSI(ramp(30, 50, 0), 14)
	assert.Equal(t, 50.0, flat[29])
}

func TestBollinger(t *testing.T) {
	upper, middle, lower := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	assert.InDelta(t, 5.0, middle[7], 1e-9)
	assert.InDelta(t, 9.0, upper[7], 1e-9, "population sd is 2")
	assert.InDelta(t, 1.0, lower[7], 1e-9)
	assert.True(t, math.IsNaN(upper[6]))
}

func TestStochastic(t *testing.T) {
	n := 20
	closes := ramp(n, 10, 1)
	highs := ramp(n, 10, 1)
	lows := ramp(n, 5, 1)
	k, d := Stochastic(highs, lows, closes, 5, 3, 3)
	assert.InDelta(t, 100.0, k[n-1], 1e-9, "closing at the high")
	assert.InDelta(t, 100.0, d[n-1], 1e-9)

	flat := ramp(n, 10, 0)
	k, _ = Stochastic(flat, flat, flat, 5, 3, 3)
	assert.Equal(t, 0.0, k[n-1])
}

func TestADX(t *testing.T) {
	n := 40
	closes := ramp(n, 10, 1)
	out := ADX(ramp(n, 11, 1), ramp(n, 9, 1), closes, 14)
	assert.True(t, math.IsNaN(out[26]))
	assert.False(t, math.IsNaN(out[27]))
	assert.InDelta(t, 100.0, out[n-1], 1e-6, "a pure uptrend is fully directional")

	short := ADX(ramp(20, 11, 1), ramp(20, 9, 1), ramp(20, 10, 1), 14)
	assert.True(t, math.IsNaN(short[19]))
}

func TestMACDCross(t *testing.T) {
	closes := make([]float64, 0, 70)
	for i := 0; i < 40; i++ {
		closes = append(closes, 200-0.05*float64(i*i))
	}
	closes = append(closes, ramp(30, 125, 3)...)
	macd, sig, hist := MACD(closes, 12, 26, 9)
	cross, at := latestCross(macd, sig)
	assert.Equal(t, CrossGolden, cross)
	assert.GreaterOrEqual(t, at, 40)
	assert.Greater(t, hist[len(hist)-1], 0.0)

	cross, at = latestCross(ramp(5, 1, 0), ramp(5, 1, 0))
	assert.Equal(t, CrossNone, cross)
	assert.Equal(t, -1, at)
}

func TestCompute(t *testing.T) {
	t.Run("insufficient data", func(t *testing.T) {
		_, err := Compute(series([]float64{1}))
		assert.ErrorIs(t, err, ErrInsufficientData)
		_, err = Compute(nil)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("short history leaves slow indicators unavailable", func(t *testing.T) {
		r, err := Compute(series(ramp(10, 10, 1)))
		require.NoError(t, err)
		assert.Nil(t, r.MA.Fast)
		assert.Equal(t, Unavailable, r.RSI.Signal)
		assert.Equal(t, Unavailable, r.ADX.Signal)
		assert.Len(t, r.Price.Recent20, 10)
	})

	t.Run("full history", func(t *testing.T) {
		r, err := Compute(series(ramp(80, 10, 1)))
		require.NoError(t, err)
		assert.Equal(t, "TEST", r.Ticker)
		assert.Equal(t, "2024-03-20", r.AsOf)
		require.NotNil(t, r.MA.Fast)
		require.NotNil(t, r.MA.Slow)
		assert.Greater(t, *r.MA.Fast, *r.MA.Slow)
		assert.Equal(t, RSIOverbought, r.RSI.Signal)
		assert.Equal(t, TrendStrong, r.ADX.Signal)
		assert.Equal(t, VolumeExpanding, r.VolumeMA.Signal)
		assert.Len(t, r.Price.Recent50, 50)
		assert.Len(t, r.Signals(), 8)

		out, err := r.YAML()
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
		assert.Contains(t, decoded, "rsi")
		assert.Contains(t, decoded, "bollinger")
	})
}
