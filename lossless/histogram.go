package lossless

import "math"

// Symbol frequency histograms for the five VP8L symbol streams, plus the
// entropy estimates used to compare candidate token streams.
//
// Reference: libwebp/src/enc/histogram_enc.c

// Histogram holds per-symbol frequency counts for the five VP8L symbol
// streams. Literal covers green values, length prefix codes, and color
// cache indices.
type Histogram struct {
	Literal  []uint32
	Red      [NumLiteralCodes]uint32
	Blue     [NumLiteralCodes]uint32
	Alpha    [NumLiteralCodes]uint32
	Distance [NumDistanceCodes]uint32

	paletteCodeBits int
}

// histogramNumCodes returns the literal alphabet size for the given
// cache bits.
func histogramNumCodes(cacheBits int) int {
	n := NumLiteralCodes + NumLengthCodes
	if cacheBits > 0 {
		n += 1 << cacheBits
	}
	return n
}

// NewHistogram allocates a Histogram with the correct literal slice size.
func NewHistogram(cacheBits int) *Histogram {
	return &Histogram{
		paletteCodeBits: cacheBits,
		Literal:         make([]uint32, histogramNumCodes(cacheBits)),
	}
}

// Clear zeros out all frequency arrays.
func (h *Histogram) Clear() {
	for i := range h.Literal {
		h.Literal[i] = 0
	}
	h.Red = [NumLiteralCodes]uint32{}
	h.Blue = [NumLiteralCodes]uint32{}
	h.Alpha = [NumLiteralCodes]uint32{}
	h.Distance = [NumDistanceCodes]uint32{}
}

// AddSingle accumulates one token into the histogram. distModifier, if
// non-nil, converts raw copy distances before bucketing (pass
// DistanceToPlaneCode for streams that still carry raw pixel offsets).
func (h *Histogram) AddSingle(v *PixOrCopy, distModifier func(xsize, dist int) int, xsize int) {
	switch {
	case v.IsLiteral():
		argb := v.Argb()
		h.Alpha[(argb>>24)&0xff]++
		h.Red[(argb>>16)&0xff]++
		h.Literal[(argb>>8)&0xff]++ // green channel
		h.Blue[argb&0xff]++

	case v.IsCacheIdx():
		idx := NumLiteralCodes + NumLengthCodes + v.CacheIndex()
		if idx < len(h.Literal) {
			h.Literal[idx]++
		}

	case v.IsCopy():
		lenCode, _ := PrefixEncodeBits(v.Length())
		if code := NumLiteralCodes + lenCode; code < len(h.Literal) {
			h.Literal[code]++
		}
		dist := v.Distance()
		if distModifier != nil {
			dist = distModifier(xsize, dist)
		}
		distCode, _ := PrefixEncodeBits(dist)
		if distCode < NumDistanceCodes {
			h.Distance[distCode]++
		}
	}
}

// StoreRefs accumulates all tokens from refs into the histogram.
func (h *Histogram) StoreRefs(refs *BackwardRefs, distModifier func(xsize, dist int) int, xsize int) {
	for i := range refs.refs {
		h.AddSingle(&refs.refs[i], distModifier, xsize)
	}
}

// ---------------------------------------------------------------------------
// Entropy estimation
// ---------------------------------------------------------------------------

// bitEntropy holds intermediate entropy calculation results.
type bitEntropy struct {
	entropy     float64
	sum         uint32
	nonzeros    int
	maxVal      uint32
	nonzeroCode uint32
}

// streaks holds run-length statistics for Huffman cost estimation.
type streaks struct {
	counts  [2]int    // [zero, non-zero] number of streaks > 3
	streaks [2][2]int // [zero/non-zero][streak<=3 / streak>3]
}

// getEntropyUnrefinedHelper processes a single streak transition.
func getEntropyUnrefinedHelper(val uint32, i int, valPrev *uint32, iPrev *int,
	be *bitEntropy, st *streaks) {

	streak := i - *iPrev

	if *valPrev != 0 {
		be.sum += *valPrev * uint32(streak)
		be.nonzeros += streak
		be.nonzeroCode = uint32(*iPrev)
		be.entropy += fastSLog2(*valPrev) * float64(streak)
		if be.maxVal < *valPrev {
			be.maxVal = *valPrev
		}
	}

	isNZ := 0
	if *valPrev != 0 {
		isNZ = 1
	}
	longStreak := 0
	if streak > 3 {
		longStreak = 1
	}
	st.counts[isNZ] += longStreak
	st.streaks[isNZ][longStreak] += streak

	*valPrev = val
	*iPrev = i
}

// getEntropyUnrefined computes the unrefined bit entropy and streak stats
// for a population array.
func getEntropyUnrefined(population []uint32) (bitEntropy, streaks) {
	var be bitEntropy
	var st streaks

	if len(population) == 0 {
		return be, st
	}

	iPrev := 0
	xPrev := population[0]

	for i := 1; i < len(population); i++ {
		x := population[i]
		if x != xPrev {
			getEntropyUnrefinedHelper(x, i, &xPrev, &iPrev, &be, &st)
		}
	}
	getEntropyUnrefinedHelper(0, len(population), &xPrev, &iPrev, &be, &st)

	be.entropy = fastSLog2(be.sum) - be.entropy
	return be, st
}

// fastSLog2LUTSize is the LUT size for fastSLog2.
const fastSLog2LUTSize = 4096

// fastSLog2LUT is a precomputed lookup table for v * log2(v).
var fastSLog2LUT [fastSLog2LUTSize]float64

func init() {
	for i := 1; i < fastSLog2LUTSize; i++ {
		fv := float64(i)
		fastSLog2LUT[i] = fv * math.Log2(fv)
	}
}

// fastSLog2 computes v * log2(v) for v > 0, returning 0 for v == 0.
func fastSLog2(v uint32) float64 {
	if v < fastSLog2LUTSize {
		return fastSLog2LUT[v]
	}
	fv := float64(v)
	return fv * math.Log2(fv)
}

// bitsEntropyRefine applies heuristic refinement to unrefined entropy,
// matching libwebp BitsEntropyRefine.
func bitsEntropyRefine(be *bitEntropy) float64 {
	if be.nonzeros < 5 {
		if be.nonzeros <= 1 {
			return 0
		}
		if be.nonzeros == 2 {
			return 0.99*float64(be.sum) + 0.01*be.entropy
		}
		var mix float64
		if be.nonzeros == 3 {
			mix = 0.95
		} else {
			mix = 0.7
		}
		minLimit := float64(2*be.sum - be.maxVal)
		minLimit = mix*minLimit + (1.0-mix)*be.entropy
		if be.entropy < minLimit {
			return minLimit
		}
		return be.entropy
	}

	mix := 0.627
	minLimit := float64(2*be.sum - be.maxVal)
	minLimit = mix*minLimit + (1.0-mix)*be.entropy
	if be.entropy < minLimit {
		return minLimit
	}
	return be.entropy
}

// BitsEntropy returns the refined Shannon-like entropy for a symbol
// population.
func BitsEntropy(array []uint32) float64 {
	var be bitEntropy
	for i, v := range array {
		if v != 0 {
			be.sum += v
			be.nonzeroCode = uint32(i)
			be.nonzeros++
			be.entropy += fastSLog2(v)
			if be.maxVal < v {
				be.maxVal = v
			}
		}
	}
	be.entropy = fastSLog2(be.sum) - be.entropy
	return bitsEntropyRefine(&be)
}

// initialHuffmanCost returns the initial Huffman overhead bias.
func initialHuffmanCost() float64 {
	const codeLengthCodes = 19
	return float64(codeLengthCodes*3) - 9.1
}

// finalHuffmanCost computes the Huffman overhead from streak statistics.
// Constants are empirical, ported from the libwebp fixed-point tables.
func finalHuffmanCost(st *streaks) float64 {
	retval := initialHuffmanCost()
	retval += float64(st.counts[0]) * 1.5625
	retval += float64(st.streaks[0][1]) * 0.234375
	retval += float64(st.counts[1]) * 2.578125
	retval += float64(st.streaks[1][1]) * 0.703125
	retval += float64(st.streaks[0][0]) * 1.796875
	retval += float64(st.streaks[1][0]) * 3.28125
	return retval
}

// populationCost computes entropy + Huffman overhead for a population.
func populationCost(population []uint32) float64 {
	be, st := getEntropyUnrefined(population)
	return bitsEntropyRefine(&be) + finalHuffmanCost(&st)
}

// PopulationCost returns the estimated coding cost of a histogram.
func PopulationCost(h *Histogram) float64 {
	cost := populationCost(h.Literal)
	cost += populationCost(h.Red[:])
	cost += populationCost(h.Blue[:])
	cost += populationCost(h.Alpha[:])
	cost += populationCost(h.Distance[:])
	return cost
}

// extraCost computes the extra-bits cost for length/distance prefix codes.
func extraCost(population []uint32, length int) float64 {
	if length < 6 {
		return 0
	}
	cost := float64(population[4] + population[5])
	halfLen := length/2 - 1
	for i := 2; i < halfLen; i++ {
		cost += float64(i) * float64(population[2*i+2]+population[2*i+3])
	}
	return cost
}

// EstimateBits computes the estimated bit cost of coding the histogram's
// token stream, matching VP8LHistogramEstimateBits.
func (h *Histogram) EstimateBits() uint64 {
	cost := PopulationCost(h)
	cost += extraCost(h.Literal[NumLiteralCodes:], NumLengthCodes)
	cost += extraCost(h.Distance[:], NumDistanceCodes)
	return uint64(cost)
}
