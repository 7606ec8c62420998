package lossless

// MatchFinder proposes backward matches for the cost pass and the token
// assembly pass. Implementations must be deterministic and side-effect
// free for a fixed image: FindCopy(pos) returns the best (offset, length)
// match starting at pos, with length 0 meaning no match; FindOffset(pos)
// returns the offset alone, for a match origin chosen by the parse.
type MatchFinder interface {
	FindCopy(pos int) (offset, length int)
	FindOffset(pos int) int
}

const (
	// hashBits is the number of bits for the hash key.
	hashBits = 18
	// hashSize is the number of hash table buckets.
	hashSize = 1 << hashBits

	// maxLengthBits is the number of bits to encode a match length.
	maxLengthBits = 12
	// maxLength is the maximum match length (4095).
	maxLength = (1 << maxLengthBits) - 1

	// windowSizeBits is the number of bits for the match window offset.
	windowSizeBits = 20
	// windowSize is the maximum backward distance for matching.
	windowSize = (1 << windowSizeBits) - 120

	// minLength is the minimum copy length the greedy strategies emit.
	minLength = 4
)

// Hash multipliers for the two-pixel hash.
const (
	kHashMultiplierHi = uint32(0xc6a4a793)
	kHashMultiplierLo = uint32(0x5bd1e996)
)

// getPixPairHash64 computes a hash from two consecutive ARGB pixels.
func getPixPairHash64(argb []uint32) uint32 {
	key := argb[1]*kHashMultiplierHi + argb[0]*kHashMultiplierLo
	return key >> (32 - hashBits)
}

// getPixPairHash64Values computes a hash from two explicit ARGB values.
func getPixPairHash64Values(a, b uint32) uint32 {
	key := b*kHashMultiplierHi + a*kHashMultiplierLo
	return key >> (32 - hashBits)
}

// getMaxItersForQuality returns the maximum number of hash chain lookups
// for a given compression quality.
func getMaxItersForQuality(quality int) int {
	if quality <= 75 {
		return 8 + quality/3
	}
	return 8 + (quality*quality)/128
}

// findMatchLength returns the length of the match between array1 and
// array2, up to maxLimit. If array1[bestLenMatch] != array2[bestLenMatch]
// the match cannot improve on the current best, so 0 is returned without
// scanning.
func findMatchLength(array1, array2 []uint32, bestLenMatch, maxLimit int) int {
	if bestLenMatch < maxLimit && array1[bestLenMatch] != array2[bestLenMatch] {
		return 0
	}
	matchLen := 0
	for matchLen < maxLimit && array1[matchLen] == array2[matchLen] {
		matchLen++
	}
	return matchLen
}

// HashChain is the production MatchFinder: an LZ77 hash chain storing,
// for each pixel position, the best match as a packed (offset, length)
// pair computed by Fill.
//
// Reference: libwebp/src/enc/backward_references_enc.c
type HashChain struct {
	// OffsetLength stores packed (offset, length) for each position.
	// Format: offset = value >> maxLengthBits, length = value & maxLength.
	OffsetLength     []uint32
	size             int
	hashToFirstIndex []int32 // reusable between Fill() calls
}

// NewHashChain creates a hash chain for an image of the given pixel count.
func NewHashChain(size int) *HashChain {
	return &HashChain{
		OffsetLength:     make([]uint32, size),
		size:             size,
		hashToFirstIndex: make([]int32, hashSize),
	}
}

// FindCopy returns the best (offset, length) match starting at pos.
func (hc *HashChain) FindCopy(pos int) (offset, length int) {
	v := hc.OffsetLength[pos]
	return int(v) >> maxLengthBits, int(v) & maxLength
}

// FindOffset returns the match offset at pos.
func (hc *HashChain) FindOffset(pos int) int {
	return int(hc.OffsetLength[pos]) >> maxLengthBits
}

// GetWindowSizeForHashChain returns the match window size for a quality.
func GetWindowSizeForHashChain(quality, xsize int) int {
	shift := 4
	switch {
	case quality > 75:
		return windowSize
	case quality > 50:
		shift = 8
	case quality > 25:
		shift = 6
	}
	maxWin := xsize << shift
	if maxWin > windowSize {
		return windowSize
	}
	return maxWin
}

// maxFindCopyLength caps the length to maxLength.
func maxFindCopyLength(length int) int {
	if length < maxLength {
		return length
	}
	return maxLength
}

// Fill builds the hash chain from the ARGB pixel array. quality controls
// the search window size and iteration budget.
func (hc *HashChain) Fill(argb []uint32, quality, xsize, ysize int, lowEffort bool) {
	size := xsize * ysize
	if size <= 2 {
		hc.OffsetLength[0] = 0
		if size > 1 {
			hc.OffsetLength[size-1] = 0
		}
		return
	}

	iterMax := getMaxItersForQuality(quality)
	winSize := uint32(GetWindowSizeForHashChain(quality, xsize))

	hashToFirstIndex := hc.hashToFirstIndex
	for i := range hashToFirstIndex {
		hashToFirstIndex[i] = -1
	}

	// OffsetLength doubles as chain storage during the first pass.
	chainSlice := hc.OffsetLength

	// First pass: build chains with the two-pixel hash. Runs of identical
	// pixels share a combined (pixel, run-length) hash so that long flat
	// regions do not flood a single bucket.
	argbComp := argb[0] == argb[1]
	for pos := 0; pos < size-2; {
		argbCompNext := argb[pos+1] == argb[pos+2]
		if argbComp && argbCompNext {
			tmp0 := argb[pos]
			length := uint32(1)
			for pos+int(length)+2 < size && argb[pos+int(length)+2] == argb[pos] {
				length++
			}
			if length > maxLength {
				// Skip pixels that match for distance=1 and length>maxLength.
				skip := int(length - maxLength)
				for k := 0; k < skip; k++ {
					chainSlice[pos+k] = uint32(0xFFFFFFFF) // -1 as uint32
				}
				pos += skip
				length = maxLength
			}
			for length > 0 {
				hashCode := getPixPairHash64Values(tmp0, length)
				chainSlice[pos] = uint32(hashToFirstIndex[hashCode])
				hashToFirstIndex[hashCode] = int32(pos)
				pos++
				length--
			}
			argbComp = false
		} else {
			hashCode := getPixPairHash64(argb[pos:])
			chainSlice[pos] = uint32(hashToFirstIndex[hashCode])
			hashToFirstIndex[hashCode] = int32(pos)
			pos++
			argbComp = argbCompNext
		}
	}
	// Process the penultimate pixel.
	if size >= 3 {
		chainSlice[size-2] = uint32(hashToFirstIndex[getPixPairHash64(argb[size-2:])])
	}

	// Second pass: find best matches, iterating from right to left.
	// The right-most pixel cannot match anything to its right.
	hc.OffsetLength[0] = 0
	hc.OffsetLength[size-1] = 0

	for basePosition := uint32(size - 2); basePosition > 0; {
		maxLen := maxFindCopyLength(int(uint32(size) - 1 - basePosition))
		argbStart := argb[basePosition:]
		iter := iterMax
		bestLength := 0
		bestDistance := uint32(0)
		minPos := int32(0)
		if basePosition > winSize {
			minPos = int32(basePosition - winSize)
		}
		lengthMax := maxLen
		if lengthMax > 256 {
			lengthMax = 256
		}

		pos := int32(chainSlice[basePosition])

		if !lowEffort {
			// Heuristic: compare with the pixel one row above.
			if basePosition >= uint32(xsize) {
				currLength := findMatchLength(argb[basePosition-uint32(xsize):], argbStart, bestLength, maxLen)
				if currLength > bestLength {
					bestLength = currLength
					bestDistance = uint32(xsize)
				}
				iter--
			}
			// Heuristic: compare with the previous pixel.
			currLength := findMatchLength(argb[basePosition-1:], argbStart, bestLength, maxLen)
			if currLength > bestLength {
				bestLength = currLength
				bestDistance = 1
			}
			iter--
			// Skip the chain loop if we already have the maximum.
			if bestLength == maxLength {
				pos = minPos - 1
			}
		}

		bestArgb := argbStart[bestLength]

		for ; pos >= minPos && iter > 0; pos = int32(chainSlice[pos]) {
			iter--

			if argb[pos+int32(bestLength)] != bestArgb {
				continue
			}

			currLength := findMatchLength(argb[pos:], argbStart, 0, maxLen)
			if bestLength < currLength {
				bestLength = currLength
				bestDistance = basePosition - uint32(pos)
				bestArgb = argbStart[bestLength]
				if bestLength >= lengthMax {
					break
				}
			}
		}

		// Left-extension: reuse the match to fill preceding positions.
		maxBasePosition := basePosition
		for {
			if bestLength > maxLength {
				bestLength = maxLength
			}
			hc.OffsetLength[basePosition] = (bestDistance << maxLengthBits) | uint32(bestLength)
			basePosition--
			if bestDistance == 0 || basePosition == 0 {
				break
			}
			// Stop if the matching interval cannot extend to the left.
			if basePosition < bestDistance ||
				argb[basePosition-bestDistance] != argb[basePosition] {
				break
			}
			// Stop at the length limit: a closer interval with the same
			// maximum length may exist, except at bestDistance == 1.
			if bestLength == maxLength && bestDistance != 1 &&
				basePosition+uint32(maxLength) < maxBasePosition {
				break
			}
			if bestLength < maxLength {
				bestLength++
				maxBasePosition = basePosition
			}
		}
	}
}
