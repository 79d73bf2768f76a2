package stability

import (
	"math"
	"time"
)

// Detection thresholds. These implement fixed rules; tuning happens through
// Config, not here.
const (
	corruptionNullRate    = 0.30
	corruptionControlRate = 0.20
	corruptionLengthRatio = 3.0
	dropoutGapRate        = 0.10
	noiseVarianceLimit    = 400.0
	timingConsistencyMin  = 50.0
)

// Score weights for the overall stability score.
const (
	weightDataQuality       = 0.40
	weightLengthConsistency = 0.25
	weightTimingConsistency = 0.20
	weightSignalStrength    = 0.15
)

// analyze computes window statistics and condition flags over the given
// samples. The caller holds the window snapshot; analyze itself is pure.
func analyze(samples []Sample, dropoutThreshold time.Duration) Analysis {
	var a Analysis
	n := len(samples)
	if n == 0 {
		return a
	}

	valid, withNull, withBadControl := 0, 0, 0
	sumSignal := 0.0
	sumLen := 0.0
	lengths := make([]float64, n)
	for i, s := range samples {
		if s.Valid {
			valid++
		}
		if s.HasNullBytes {
			withNull++
		}
		if s.HasControlChars {
			withBadControl++
		}
		sumSignal += s.SignalStrength
		sumLen += float64(s.Length)
		lengths[i] = float64(s.Length)
		if s.Length > a.MaxLength {
			a.MaxLength = s.Length
		}
	}

	fn := float64(n)
	a.ValidRate = float64(valid) / fn
	a.NullRate = float64(withNull) / fn
	a.BadControlRate = float64(withBadControl) / fn
	a.MeanSignalStrength = sumSignal / fn
	a.MeanLength = sumLen / fn

	// Signal strength variance on the 0..100 scale.
	meanSig100 := a.MeanSignalStrength * 100
	varSig := 0.0
	for _, s := range samples {
		d := s.SignalStrength*100 - meanSig100
		varSig += d * d
	}
	a.SignalVariance = varSig / fn

	a.LengthConsistency = consistencyScore(lengths)
	a.TimingConsistency = timingScore(samples)

	// Data quality is the mean of four ratios, expressed 0..100.
	a.DataQuality = 100 * (a.ValidRate +
		(1 - a.NullRate) +
		(1 - a.BadControlRate) +
		a.MeanSignalStrength) / 4

	a.CorruptionDetected = detectCorruption(a)
	a.DropoutsDetected = detectDropouts(samples, dropoutThreshold)
	a.NoiseDetected = a.SignalVariance > noiseVarianceLimit
	a.TimingIssues = a.TimingConsistency < timingConsistencyMin

	return a
}

// overallScore combines the analysis components into the 0..100 stability
// score.
func overallScore(a Analysis) float64 {
	score := weightDataQuality*a.DataQuality +
		weightLengthConsistency*a.LengthConsistency +
		weightTimingConsistency*a.TimingConsistency +
		weightSignalStrength*a.MeanSignalStrength*100
	return clamp(score, 0, 100)
}

// nextState re-evaluates the state machine from the current analysis.
func nextState(a Analysis, score, stabilityThreshold float64) State {
	switch {
	case a.ValidRate < 0.10:
		return StateDisconnected
	case a.CorruptionDetected && a.DataQuality < 30:
		return StateCorrupted
	case a.DropoutsDetected && a.ValidRate < 0.70:
		return StateIntermittent
	case a.NoiseDetected && a.DataQuality > 60:
		return StateNoisy
	case score >= stabilityThreshold:
		return StateStable
	case a.TimingIssues:
		return StateIntermittent
	default:
		return StateUnstable
	}
}

// detectCorruption fires when at least two of the three corruption markers
// are present.
func detectCorruption(a Analysis) bool {
	markers := 0
	if a.NullRate > corruptionNullRate {
		markers++
	}
	if a.BadControlRate > corruptionControlRate {
		markers++
	}
	if a.MeanLength > 0 && float64(a.MaxLength) > corruptionLengthRatio*a.MeanLength {
		markers++
	}
	return markers >= 2
}

// detectDropouts fires when more than 10% of inter-arrival gaps exceed the
// dropout threshold.
func detectDropouts(samples []Sample, threshold time.Duration) bool {
	if len(samples) < 2 {
		return false
	}
	gaps := len(samples) - 1
	long := 0
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp.Sub(samples[i-1].Timestamp) > threshold {
			long++
		}
	}
	return float64(long)/float64(gaps) > dropoutGapRate
}

// timingScore scores inter-arrival regularity from the coefficient of
// variation of the gaps.
func timingScore(samples []Sample) float64 {
	if len(samples) < 3 {
		return 100
	}
	gaps := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		gaps = append(gaps, samples[i].Timestamp.Sub(samples[i-1].Timestamp).Seconds())
	}
	return consistencyScore(gaps)
}

// consistencyScore maps a coefficient of variation onto a 0..100 score:
// cv=0 scores 100, cv>=1 scores 0.
func consistencyScore(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if mean == 0 {
		return 100
	}

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	cv := math.Sqrt(variance) / math.Abs(mean)
	return clamp(100*(1-cv), 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
