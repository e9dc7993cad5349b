package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_Deterministic(t *testing.T) {
	data := []byte("AABBCCDD")
	first := Score(data, HintGood)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(data, HintGood))
	}
}

func TestScore_KnownValues(t *testing.T) {
	// codes 65,65,66,66,67,67,68,68: sum of diffs = 3, avg = 3/8
	// base 80, length 8/50*100 = 16, clarity 3.75, compression 4/8*200 = 100
	res := Score([]byte("AABBCCDD"), HintGood)
	assert.InDelta(t, 80*0.3+16*0.2+3.75*0.3+100*0.2, res.OverallScore, 0.0001)
	assert.InDelta(t, 3.75, res.Clarity, 0.0001)
	assert.InDelta(t, 100, res.Compression, 0.0001)
	assert.Equal(t, 8, res.DataLength)
}

func TestScore_BaseQualityHint(t *testing.T) {
	data := []byte("AABBCCDD")
	good := Score(data, HintGood)
	other := Score(data, "fair")
	assert.InDelta(t, 6, good.OverallScore-other.OverallScore, 0.0001)
}

func TestScore_Empty(t *testing.T) {
	res := Score(nil, HintGood)
	assert.Equal(t, Metrics{OverallScore: 50, Clarity: 50, Compression: 50}, res)
}

func TestScore_SingleByte(t *testing.T) {
	res := Score([]byte("A"), HintGood)
	assert.InDelta(t, 50, res.Clarity, 0.0001)
	assert.Equal(t, 1, res.DataLength)
}

func TestScore_Clamped(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = byte(i % 251)
	}
	res := Score(long, HintGood)
	assert.LessOrEqual(t, res.OverallScore, 100.0)
	assert.LessOrEqual(t, res.Clarity, 100.0)
	assert.LessOrEqual(t, res.Compression, 100.0)
	assert.GreaterOrEqual(t, res.OverallScore, 0.0)
}

func TestScore_FlatDataLowClarity(t *testing.T) {
	flat := make([]byte, 100)
	for i := range flat {
		flat[i] = 'x'
	}
	res := Score(flat, HintGood)
	assert.InDelta(t, 0, res.Clarity, 0.0001)
	assert.InDelta(t, 2, res.Compression, 0.0001)
}
