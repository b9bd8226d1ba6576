package indicator

import "marketpulse/internal/model"

// oscillate computes an RSI-style momentum oscillator over the window using
// Wilder's smoothing method. The window must hold at least period+1 samples
// (period deltas seed the averages, the rest are smoothed).
// The result is bounded to [0, 100].
func oscillate(window []model.Sample, period int) float64 {
	var avgGain, avgLoss float64

	// Accumulation phase: SMA seed over the first `period` deltas.
	for i := 1; i <= period; i++ {
		delta := float64(window[i].Price-window[i-1].Price) / 100.0
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing over the remaining deltas:
	// avg = (prevAvg*(period-1) + delta) / period
	p := float64(period)
	for i := period + 1; i < len(window); i++ {
		delta := float64(window[i].Price-window[i-1].Price) / 100.0
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
