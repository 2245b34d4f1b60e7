// Package indicators computes the technical signals handed to the market
// analyst: moving averages, MACD, RSI, Bollinger Bands, the stochastic
// oscillator, ADX and volume, each paired with an interpretation.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/dyluth/cerebrum/internal/marketdata"
	"gopkg.in/yaml.v3"
)

// ErrInsufficientData is returned when a series is too short to analyse.
var ErrInsufficientData = errors.New("insufficient market data")

// MinBars is the shortest series Compute accepts.
const MinBars = 2

// Directions attached to each indicator family.
const (
	DirectionMA         = "A bullish signal when MA20 crosses above MA50 with rising volume; bearish otherwise."
	DirectionEMA        = "EMA20 crossing above EMA50 with rising volume is a short-term buy signal."
	DirectionMACD       = "A golden cross with rising volume is a strong bullish signal; a death cross is a short-term bearish signal."
	DirectionRSI        = "RSI above 70 is overbought (watch for a pullback); below 30 is oversold (possible rebound); expanding volume makes either more reliable."
	DirectionBollinger  = "A close above the upper band on rising volume may extend the rally; a break below the lower band on heavy volume may extend the decline."
	DirectionStochastic = "K crossing above D is a buy signal, especially below 20; K crossing below D above 80 is a sell signal; confirm with volume."
	DirectionADX        = "ADX above 25 indicates a trend; combine it with the MACD direction."
	DirectionVolume     = "Rising volume helps confirm whether a price trend is valid."
)

// Signal labels.
const (
	CrossGolden = "golden cross"
	CrossDeath  = "death cross"
	CrossNone   = "no cross"

	RSIOverbought = "overbought"
	RSIOversold   = "oversold"
	RSINeutral    = "neutral"

	BandAboveUpper = "above upper band"
	BandBelowLower = "below lower band"
	BandInside     = "inside bands"

	KAboveD = "K above D"
	KBelowD = "K below D"

	TrendStrong = "trending"
	TrendWeak   = "weak trend"

	VolumeExpanding   = "expanding"
	VolumeContracting = "contracting"

	Unavailable = "insufficient data"
)

// Report is the structured indicator set for one series.
type Report struct {
	Ticker     string         `yaml:"ticker"`
	AsOf       string         `yaml:"as_of"`
	Bars       int            `yaml:"bars"`
	Volume     Trend          `yaml:"volume"`
	Price      Trend          `yaml:"price"`
	MA         MovingAverage  `yaml:"ma"`
	EMA        MovingAverage  `yaml:"ema"`
	MACD       MACDSignal     `yaml:"macd"`
	RSI        Oscillator     `yaml:"rsi"`
	Bollinger  BandSignal     `yaml:"bollinger"`
	Stochastic StochSignal    `yaml:"stochastic"`
	ADX        Oscillator     `yaml:"adx"`
	VolumeMA   VolumeMASignal `yaml:"volume_ma"`
}

// Trend holds the most recent raw values.
type Trend struct {
	Recent20 []float64 `yaml:"recent_20,flow"`
	Recent50 []float64 `yaml:"recent_50,flow"`
}

// MovingAverage is a fast/slow pair.
type MovingAverage struct {
	Fast      *float64 `yaml:"fast_20"`
	Slow      *float64 `yaml:"slow_50"`
	Direction string   `yaml:"direction"`
}

// MACDSignal holds recent MACD values and the latest crossover.
type MACDSignal struct {
	Recent20    []float64 `yaml:"recent_20,flow"`
	LatestCross string    `yaml:"latest_cross"`
	CrossDate   string    `yaml:"cross_date,omitempty"`
	Direction   string    `yaml:"direction"`
}

// Oscillator is a single latest value with its signal.
type Oscillator struct {
	Latest    *float64 `yaml:"latest"`
	Signal    string   `yaml:"signal"`
	Direction string   `yaml:"direction"`
}

// BandSignal describes where the close sits relative to the bands.
type BandSignal struct {
	Upper     *float64 `yaml:"upper"`
	Middle    *float64 `yaml:"middle"`
	Lower     *float64 `yaml:"lower"`
	Signal    string   `yaml:"signal"`
	Direction string   `yaml:"direction"`
}

// StochSignal holds the slow stochastic lines.
type StochSignal struct {
	K         *float64 `yaml:"k"`
	D         *float64 `yaml:"d"`
	Signal    string   `yaml:"signal"`
	Direction string   `yaml:"direction"`
}

// VolumeMASignal compares the latest volume with its 20-day average.
type VolumeMASignal struct {
	MA20      *float64 `yaml:"ma_20"`
	Signal    string   `yaml:"signal"`
	Direction string   `yaml:"direction"`
}

// Compute derives every indicator from s.
func Compute(s *marketdata.Series) (*Report, error) {
	if s == nil || len(s.Bars) < MinBars {
		return nil, fmt.Errorf("%w: need at least %d bars", ErrInsufficientData, MinBars)
	}

	closes, highs, lows, volumes := s.Closes(), s.Highs(), s.Lows(), s.Volumes()
	last := len(closes) - 1

	r := &Report{
		Ticker: s.Ticker,
		AsOf:   s.Bars[last].Time.Format("2006-01-02"),
		Bars:   len(s.Bars),
		Volume: Trend{Recent20: tail(volumes, 20), Recent50: tail(volumes, 50)},
		Price:  Trend{Recent20: tail(closes, 20), Recent50: tail(closes, 50)},
	}

	r.MA = MovingAverage{
		Fast:      latest(SMA(closes, 20)),
		Slow:      latest(SMA(closes, 50)),
		Direction: DirectionMA,
	}
	r.EMA = MovingAverage{
		Fast:      latest(EMA(closes, 20)),
		Slow:      latest(EMA(closes, 50)),
		Direction: DirectionEMA,
	}

	macd, sig, _ := MACD(closes, 12, 26, 9)
	cross, at := latestCross(macd, sig)
	r.MACD = MACDSignal{
		Recent20:    roundAll(tail(macd, 20)),
		LatestCross: cross,
		Direction:   DirectionMACD,
	}
	if at >= 0 {
		r.MACD.CrossDate = s.Bars[at].Time.Format("2006-01-02")
	}

	rsi := latest(RSI(closes, 14))
	r.RSI = Oscillator{Latest: rsi, Signal: rsiSignal(rsi), Direction: DirectionRSI}

	upper, middle, lower := Bollinger(closes, 20, 2)
	r.Bollinger = BandSignal{
		Upper:     latest(upper),
		Middle:    latest(middle),
		Lower:     latest(lower),
		Signal:    bandSignal(closes[last], upper[last], lower[last]),
		Direction: DirectionBollinger,
	}

	k, d := Stochastic(highs, lows, closes, 5, 3, 3)
	r.Stochastic = StochSignal{
		K:         latest(k),
		D:         latest(d),
		Signal:    kdSignal(k[last], d[last]),
		Direction: DirectionStochastic,
	}

	adx := latest(ADX(highs, lows, closes, 14))
	r.ADX = Oscillator{Latest: adx, Signal: adxSignal(adx), Direction: DirectionADX}

	volMA := SMA(volumes, 20)
	r.VolumeMA = VolumeMASignal{
		MA20:      latest(volMA),
		Signal:    volumeSignal(volumes[last], volMA[last]),
		Direction: DirectionVolume,
	}

	return r, nil
}

// YAML renders the report for inclusion in a prompt.
func (r *Report) YAML() (string, error) {
	out, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to render indicators: %w", err)
	}
	return string(out), nil
}

// Signal is one labelled indicator reading.
type Signal struct {
	Name           string
	Value          string
	Reading        string
	Interpretation string
}

// Signals flattens the report into labelled readings.
func (r *Report) Signals() []Signal {
	return []Signal{
		{"MA20 / MA50", pair(r.MA.Fast, r.MA.Slow), maReading(r.MA), r.MA.Direction},
		{"EMA20 / EMA50", pair(r.EMA.Fast, r.EMA.Slow), maReading(r.EMA), r.EMA.Direction},
		{"MACD", lastValue(r.MACD.Recent20), r.MACD.LatestCross, r.MACD.Direction},
		{"RSI(14)", format(r.RSI.Latest), r.RSI.Signal, r.RSI.Direction},
		{"Bollinger(20)", pair(r.Bollinger.Upper, r.Bollinger.Lower), r.Bollinger.Signal, r.Bollinger.Direction},
		{"Stochastic K / D", pair(r.Stochastic.K, r.Stochastic.D), r.Stochastic.Signal, r.Stochastic.Direction},
		{"ADX(14)", format(r.ADX.Latest), r.ADX.Signal, r.ADX.Direction},
		{"Volume MA20", format(r.VolumeMA.MA20), r.VolumeMA.Signal, r.VolumeMA.Direction},
	}
}

func latestCross(macd, sig []float64) (string, int) {
	for i := len(macd) - 1; i >= 1; i-- {
		if anyNaN(macd[i], sig[i], macd[i-1], sig[i-1]) {
			continue
		}
		if macd[i-1] < sig[i-1] && macd[i] > sig[i] {
			return CrossGolden, i
		}
		if macd[i-1] > sig[i-1] && macd[i] < sig[i] {
			return CrossDeath, i
		}
	}
	return CrossNone, -1
}

func rsiSignal(v *float64) string {
	switch {
	case v == nil:
		return Unavailable
	case *v > 70:
		return RSIOverbought
	case *v < 30:
		return RSIOversold
	default:
		return RSINeutral
	}
}

func bandSignal(close, upper, lower float64) string {
	switch {
	case math.IsNaN(upper) || math.IsNaN(lower):
		return Unavailable
	case close > upper:
		return BandAboveUpper
	case close < lower:
		return BandBelowLower
	default:
		return BandInside
	}
}

func kdSignal(k, d float64) string {
	if anyNaN(k, d) {
		return Unavailable
	}
	if k > d {
		return KAboveD
	}
	return KBelowD
}

func adxSignal(v *float64) string {
	switch {
	case v == nil:
		return Unavailable
	case *v > 25:
		return TrendStrong
	default:
		return TrendWeak
	}
}

func volumeSignal(vol, ma float64) string {
	if math.IsNaN(ma) {
		return Unavailable
	}
	if vol > ma {
		return VolumeExpanding
	}
	return VolumeContracting
}

func maReading(m MovingAverage) string {
	if m.Fast == nil || m.Slow == nil {
		return Unavailable
	}
	if *m.Fast > *m.Slow {
		return "fast above slow"
	}
	return "fast below slow"
}

func tail(values []float64, n int) []float64 {
	if len(values) > n {
		values = values[len(values)-n:]
	}
	out := make([]float64, len(values))
	copy(out, values)
	return out
}

func roundAll(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, round2(v))
		}
	}
	return out
}

func latest(series []float64) *float64 {
	if len(series) == 0 || math.IsNaN(series[len(series)-1]) {
		return nil
	}
	v := round2(series[len(series)-1])
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func format(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func pair(a, b *float64) string {
	return format(a) + " / " + format(b)
}

func lastValue(values []float64) string {
	if len(values) == 0 {
		return "n/a"
	}
	v := values[len(values)-1]
	return format(&v)
}
