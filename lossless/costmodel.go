package lossless

import (
	"errors"
	"math"
)

// CostModel converts symbol frequencies from an existing token stream
// into fixed-point bit-cost estimates for the optimal parse. Costs are
// log2-scaled integers with log2PrecisionBits fractional bits.
//
// Reference: libwebp/src/enc/backward_references_cost_enc.c (CostModel)

// log2PrecisionBits is the number of fractional bits in fixed-point
// bit-cost values.
const log2PrecisionBits = 23

// logLookupIdxMax is the highest value resolved through the log2 lookup
// table.
const logLookupIdxMax = 256

var kLog2Table [logLookupIdxMax]uint32

func init() {
	for i := 2; i < logLookupIdxMax; i++ {
		kLog2Table[i] = uint32(math.Log2(float64(i))*(1<<log2PrecisionBits) + 0.5)
	}
}

// fastLog2 returns log2(v) as a fixed-point value with log2PrecisionBits
// fractional bits. fastLog2(0) is 0 by convention.
func fastLog2(v uint32) uint32 {
	if v < logLookupIdxMax {
		return kLog2Table[v]
	}
	return uint32(math.Log2(float64(v))*(1<<log2PrecisionBits) + 0.5)
}

// divRound divides with rounding to nearest, away from zero.
func divRound(a, b int64) int64 {
	if a < 0 {
		return -((-a + b/2) / b)
	}
	return (a + b/2) / b
}

// convertPopulationCountToBitEstimates fills output with the
// self-information cost of each symbol: log2(sum) - log2(count). If
// fewer than two symbols are used, coding the category carries no
// information and every cost is zero.
func convertPopulationCountToBitEstimates(counts, output []uint32) {
	sum := uint32(0)
	nonzeros := 0
	for _, c := range counts {
		sum += c
		if c > 0 {
			nonzeros++
		}
	}
	if nonzeros <= 1 {
		for i := range output {
			output[i] = 0
		}
		return
	}
	logsum := fastLog2(sum)
	for i, c := range counts {
		output[i] = logsum - fastLog2(c)
	}
}

// ErrInvalidCacheBits reports a cache-bits value outside [0, MaxCacheBits].
var ErrInvalidCacheBits = errors.New("lossless: cache bits out of range")

// CostModel holds fixed-point per-symbol cost tables for the four token
// categories: literal color channels, cache indices and length codes
// (both in literal), and distance codes.
type CostModel struct {
	alpha    [NumLiteralCodes]uint32
	red      [NumLiteralCodes]uint32
	blue     [NumLiteralCodes]uint32
	distance [NumDistanceCodes]uint32
	literal  []uint32 // green values, length codes, cache indices
}

// NewCostModel builds a cost model from the token stream in refs,
// converting raw copy distances to plane codes for the distance
// histogram. The model is read-only once built.
func NewCostModel(xsize, cacheBits int, refs *BackwardRefs) (*CostModel, error) {
	if cacheBits < 0 || cacheBits > MaxCacheBits {
		return nil, ErrInvalidCacheBits
	}
	h := NewHistogram(cacheBits)
	h.StoreRefs(refs, DistanceToPlaneCode, xsize)

	m := &CostModel{literal: make([]uint32, histogramNumCodes(cacheBits))}
	convertPopulationCountToBitEstimates(h.Literal, m.literal)
	convertPopulationCountToBitEstimates(h.Red[:], m.red[:])
	convertPopulationCountToBitEstimates(h.Blue[:], m.blue[:])
	convertPopulationCountToBitEstimates(h.Alpha[:], m.alpha[:])
	convertPopulationCountToBitEstimates(h.Distance[:], m.distance[:])
	return m, nil
}

// LiteralCost returns the cost of coding v as four literal channels.
func (m *CostModel) LiteralCost(v uint32) int64 {
	return int64(m.alpha[v>>24]) + int64(m.red[(v>>16)&0xff]) +
		int64(m.literal[(v>>8)&0xff]) + int64(m.blue[v&0xff])
}

// CacheCost returns the cost of coding a color-cache index.
func (m *CostModel) CacheCost(idx int) int64 {
	return int64(m.literal[NumLiteralCodes+NumLengthCodes+idx])
}

// LengthCost returns the cost of coding a copy length, including the
// flat extra bits of its prefix class.
func (m *CostModel) LengthCost(length int) int64 {
	code, extraBits := PrefixEncodeBits(length)
	return int64(m.literal[NumLiteralCodes+code]) +
		int64(extraBits)<<log2PrecisionBits
}

// DistanceCost returns the cost of coding a distance plane code,
// including the flat extra bits of its prefix class.
func (m *CostModel) DistanceCost(planeCode int) int64 {
	code, extraBits := PrefixEncodeBits(planeCode)
	return int64(m.distance[code]) +
		int64(extraBits)<<log2PrecisionBits
}
