package indicators

import "math"

// Every series function returns a slice aligned with its input. Positions
// without enough history hold NaN.

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average over period values.
func SMA(values []float64, period int) []float64 {
	out := nans(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for _, v := range values[i-period+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMA is the exponential moving average seeded with the SMA of the first
// period valid values. Leading NaNs in values are skipped.
func EMA(values []float64, period int) []float64 {
	out := nans(len(values))
	if period <= 0 {
		return out
	}
	first := 0
	for first < len(values) && math.IsNaN(values[first]) {
		first++
	}
	seed := first + period - 1
	if seed >= len(values) {
		return out
	}

	sum := 0.0
	for _, v := range values[first : seed+1] {
		sum += v
	}
	out[seed] = sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := seed + 1; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(close []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	f := EMA(close, fast)
	s := EMA(close, slow)
	macd = nans(len(close))
	for i := range close {
		if !math.IsNaN(f[i]) && !math.IsNaN(s[i]) {
			macd[i] = f[i] - s[i]
		}
	}
	sig = EMA(macd, signal)
	hist = nans(len(close))
	for i := range close {
		if !math.IsNaN(macd[i]) && !math.IsNaN(sig[i]) {
			hist[i] = macd[i] - sig[i]
		}
	}
	return macd, sig, hist
}

// RSI is Wilder's relative strength index.
func RSI(close []float64, period int) []float64 {
	out := nans(len(close))
	if period <= 0 || len(close) <= period {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := close[i] - close[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiValue(gain, loss)

	for i := period + 1; i < len(close); i++ {
		d := close[i] - close[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// Bollinger returns the upper, middle and lower bands using the
// population standard deviation.
func Bollinger(close []float64, period int, width float64) (upper, middle, lower []float64) {
	middle = SMA(close, period)
	upper = nans(len(close))
	lower = nans(len(close))
	for i := period - 1; i >= 0 && i < len(close); i++ {
		variance := 0.0
		for _, v := range close[i-period+1 : i+1] {
			d := v - middle[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + width*sd
		lower[i] = middle[i] - width*sd
	}
	return upper, middle, lower
}

// Stochastic returns the slow %K and %D lines.
func Stochastic(high, low, close []float64, fastK, slowK, slowD int) (k, d []float64) {
	fast := nans(len(close))
	for i := fastK - 1; i >= 0 && i < len(close); i++ {
		hh, ll := high[i], low[i]
		for j := i - fastK + 1; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			fast[i] = 0
			continue
		}
		fast[i] = 100 * (close[i] - ll) / (hh - ll)
	}
	k = SMA(fast, slowK)
	d = SMA(k, slowD)
	return k, d
}

// ADX is Wilder's average directional index.
func ADX(high, low, close []float64, period int) []float64 {
	n := len(close)
	out := nans(n)
	if period <= 0 || n < 2*period {
		return out
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}

	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := nans(n)
	p := float64(period)
	for i := period; i < n; i++ {
		if i > period {
			smTR = smTR - smTR/p + tr[i]
			smPlus = smPlus - smPlus/p + plusDM[i]
			smMinus = smMinus - smMinus/p + minusDM[i]
		}
		if smTR == 0 {
			dx[i] = 0
			continue
		}
		plusDI := 100 * smPlus / smTR
		minusDI := 100 * smMinus / smTR
		if plusDI+minusDI == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	}

	first := 2*period - 1
	sum := 0.0
	for i := period; i <= first; i++ {
		sum += dx[i]
	}
	out[first] = sum / p
	for i := first + 1; i < n; i++ {
		out[i] = (out[i-1]*(p-1) + dx[i]) / p
	}
	return out
}
