package strategy

import "math"

// sma returns the simple moving average of the last period values.
func sma(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// rsi computes the relative strength index over the last period changes.
func rsi(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50
	}
	var gains, losses float64
	window := values[len(values)-period-1:]
	for i := 1; i < len(window); i++ {
		change := window[i] - window[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// atr computes the average true range of the last period candles.
func atr(history []Candle, period int) float64 {
	if period <= 0 || len(history) < period+1 {
		return 0
	}
	window := history[len(history)-period-1:]
	sum := 0.0
	for i := 1; i < len(window); i++ {
		high := window[i].High
		low := window[i].Low
		prevClose := window[i-1].Close
		tr := high - low
		if d := math.Abs(high - prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(low - prevClose); d > tr {
			tr = d
		}
		sum += tr
	}
	return sum / float64(period)
}

// ATR exposes the average true range to callers managing dynamic stops.
// Returns 0 until period+1 candles are available.
func ATR(history []Candle, period int) float64 {
	return atr(history, period)
}

// vwap is the volume-weighted average of typical prices over the last period
// candles. Falls back to a plain average when no volume was recorded.
func vwap(history []Candle, period int) float64 {
	if period <= 0 || len(history) < period {
		return 0
	}
	window := history[len(history)-period:]
	var pv, vol float64
	for _, c := range window {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		sum := 0.0
		for _, c := range window {
			sum += (c.High + c.Low + c.Close) / 3
		}
		return sum / float64(len(window))
	}
	return pv / vol
}

// realizedVolPercent is the standard deviation of close-to-close percent
// returns over the last period candles.
func realizedVolPercent(values []float64, period int) float64 {
	if period <= 1 || len(values) < period+1 {
		return 0
	}
	window := values[len(values)-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		if window[i-1] != 0 {
			returns = append(returns, (window[i]-window[i-1])/window[i-1]*100)
		}
	}
	return stdDev(returns)
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// highestHigh and lowestLow scan the last period candles excluding the final
// excludeLast bars (so structure checks can compare the newest candle against
// the prior window).
func highestHigh(history []Candle, period, excludeLast int) float64 {
	end := len(history) - excludeLast
	start := end - period
	if start < 0 || end <= start {
		return 0
	}
	max := history[start].High
	for _, c := range history[start:end] {
		if c.High > max {
			max = c.High
		}
	}
	return max
}

func lowestLow(history []Candle, period, excludeLast int) float64 {
	end := len(history) - excludeLast
	start := end - period
	if start < 0 || end <= start {
		return 0
	}
	min := history[start].Low
	for _, c := range history[start:end] {
		if c.Low < min {
			min = c.Low
		}
	}
	return min
}

// averageVolume over the last period candles excluding the newest bar.
func averageVolume(history []Candle, period int) float64 {
	end := len(history) - 1
	start := end - period
	if start < 0 || end <= start {
		return 0
	}
	sum := 0.0
	for _, c := range history[start:end] {
		sum += c.Volume
	}
	return sum / float64(period)
}
