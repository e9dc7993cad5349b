package quality

// Metrics holds quality scores calculated for one fingerprint specimen.
// All score fields are in [0, 100].
type Metrics struct {
	OverallScore float64
	Clarity      float64
	Compression  float64
	DataLength   int
}

// HintGood is the device quality hint that raises the base score
const HintGood = "good"

const (
	baseQualityGood  = 80
	baseQualityOther = 60
	refDataLength    = 50
	claritySamples   = 100
	clarityUnit      = 10
	neutralScore     = 50
)

// Score calculates quality metrics for a captured specimen.
// The weighting and reference constants are calibration values of the
// legacy heuristic and must stay in sync with existing verifiers.
// Degenerate input never fails, it yields neutral midpoint scores
// so the capture loop can still make a retry decision.
func Score(data []byte, deviceHint string) Metrics {
	if len(data) == 0 {
		return Metrics{OverallScore: neutralScore, Clarity: neutralScore, Compression: neutralScore}
	}

	baseQuality := float64(baseQualityOther)
	if deviceHint == HintGood {
		baseQuality = baseQualityGood
	}

	lengthQuality := clamp(float64(len(data)) / refDataLength * 100)
	clarity := clarityOf(data)
	compression := compressionOf(data)

	overall := baseQuality*0.3 + lengthQuality*0.2 + clarity*0.3 + compression*0.2

	return Metrics{
		OverallScore: clamp(overall),
		Clarity:      clamp(clarity),
		Compression:  clamp(compression),
		DataLength:   len(data),
	}
}

// clarityOf measures byte-to-byte variation over at most the first 100 bytes
func clarityOf(data []byte) float64 {
	n := len(data)
	if n > claritySamples {
		n = claritySamples
	}
	if n < 2 {
		return neutralScore
	}
	variation := 0.0
	for i := 1; i < n; i++ {
		d := int(data[i]) - int(data[i-1])
		if d < 0 {
			d = -d
		}
		variation += float64(d)
	}
	avg := variation / float64(n)
	return clamp(avg / clarityUnit * 100)
}

// compressionOf measures the distinct-byte ratio of the payload
func compressionOf(data []byte) float64 {
	var seen [256]bool
	unique := 0
	for _, b := range data {
		if !seen[b] {
			seen[b] = true
			unique++
		}
	}
	ratio := float64(unique) / float64(len(data))
	return clamp(ratio * 200)
}

func clamp(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
