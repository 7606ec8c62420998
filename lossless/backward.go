package lossless

import "math"

// Greedy backward-reference strategies and the strategy driver. Each
// strategy emits a full token stream for the image; the driver runs the
// requested ones, keeps the cheapest by estimated entropy, picks a color
// cache size, and optionally refines the winner with the optimal parse.
//
// Copy tokens carry raw pixel distances throughout; the conversion to
// plane codes is a final BackwardReferences2DLocality pass, so all cost
// comparisons see the same representation.
//
// Reference: libwebp/src/enc/backward_references_enc.c

// LZ77 strategy bitmask values for GetBackwardReferences.
const (
	LZ77Standard = 1
	LZ77RLE      = 2
)

// traceQualityMin is the quality at or above which the greedy result is
// refined with the optimal parse.
const traceQualityMin = 25

// BackwardReferencesLz77 emits tokens greedily from the match finder:
// every match of at least minLength becomes a copy, everything else a
// literal or cache reference. The color cache tracks every emitted
// pixel, including those covered by copies.
func BackwardReferencesLz77(xsize, ysize int, argb []uint32, cacheBits int,
	mf MatchFinder, refs *BackwardRefs) {
	size := xsize * ysize
	refs.Reset()

	var cc *ColorCache
	if cacheBits > 0 {
		cc = NewColorCache(cacheBits)
	}

	for i := 0; i < size; {
		offset, length := mf.FindCopy(i)
		if length >= minLength {
			refs.Add(CopyPixel(length, offset))
			if cc != nil {
				for k := 0; k < length; k++ {
					cc.Insert(argb[i+k])
				}
			}
			i += length
		} else {
			addLiteral(argb[i], cc, refs)
			i++
		}
	}
}

// BackwardReferencesRle emits runs of identical pixels as distance-1
// copies. The first pixel of each run is a literal; runs shorter than
// minLength stay literal entirely.
func BackwardReferencesRle(xsize, ysize int, argb []uint32, cacheBits int, refs *BackwardRefs) {
	size := xsize * ysize
	refs.Reset()

	var cc *ColorCache
	if cacheBits > 0 {
		cc = NewColorCache(cacheBits)
	}

	for i := 0; i < size; {
		runLen := 1
		for i+runLen < size && argb[i+runLen] == argb[i] {
			runLen++
			if runLen >= maxLength {
				break
			}
		}

		if runLen >= minLength {
			addLiteral(argb[i], cc, refs)
			copyLen := runLen - 1
			off := i + 1
			for copyLen > 0 {
				chunk := copyLen
				if chunk > maxLength {
					chunk = maxLength
				}
				refs.Add(CopyPixel(chunk, 1))
				if cc != nil {
					for k := 0; k < chunk; k++ {
						cc.Insert(argb[off+k])
					}
				}
				off += chunk
				copyLen -= chunk
			}
			i += runLen
		} else {
			addLiteral(argb[i], cc, refs)
			i++
		}
	}
}

// addLiteral emits one pixel as a cache reference when it is cached,
// a literal otherwise, and records it in the cache.
func addLiteral(pix uint32, cc *ColorCache, refs *BackwardRefs) {
	if cc != nil {
		if idx, ok := cc.Contains(pix); ok {
			refs.Add(CachePixel(idx))
		} else {
			refs.Add(LiteralPixel(pix))
		}
		cc.Insert(pix)
	} else {
		refs.Add(LiteralPixel(pix))
	}
}

// BackwardReferences2DLocality rewrites the raw pixel distance of every
// copy token into its plane code. This runs once, after all strategies
// and refinements have been compared on raw distances.
func BackwardReferences2DLocality(xsize int, refs *BackwardRefs) {
	for i := range refs.refs {
		if refs.refs[i].IsCopy() {
			dist := int(refs.refs[i].argbOrDistance)
			refs.refs[i].argbOrDistance = uint32(DistanceToPlaneCode(xsize, dist))
		}
	}
}

// BackwardRefsWithLocalCache rewrites literals in an existing token
// stream into cache references where the pixel is already cached. Copy
// tokens are kept but their pixels still feed the cache, so the
// rewritten stream decodes with the same cache state as encoding saw.
func BackwardRefsWithLocalCache(argb []uint32, cacheBits int, refs *BackwardRefs) {
	if cacheBits <= 0 {
		return
	}
	cc := NewColorCache(cacheBits)
	pixelIndex := 0

	for ri := range refs.refs {
		v := &refs.refs[ri]
		if v.IsLiteral() {
			pix := v.Argb()
			if idx, ok := cc.Contains(pix); ok {
				refs.refs[ri] = CachePixel(idx)
			} else {
				cc.Insert(pix)
			}
			pixelIndex++
		} else {
			length := v.Length()
			for k := 0; k < length; k++ {
				cc.Insert(argb[pixelIndex])
				pixelIndex++
			}
		}
	}
}

// CalculateBestCacheSize simulates all cache sizes in [0, cacheBitsMax]
// over one walk of the token stream and returns the one with the lowest
// estimated entropy. Qualities of traceQualityMin and below disable the
// cache outright.
//
// All candidate caches share each pixel's hash work: the key for the
// largest cache is computed once and right-shifted for each smaller
// one, since dropping a hash bit halves the table.
func CalculateBestCacheSize(argb []uint32, quality int, refs *BackwardRefs, cacheBitsMax int) int {
	if quality <= traceQualityMin {
		return 0
	}
	if cacheBitsMax <= 0 {
		return 0
	}
	if cacheBitsMax > MaxCacheBits {
		cacheBitsMax = MaxCacheBits
	}

	numHistos := cacheBitsMax + 1
	histos := make([]*Histogram, numHistos)
	caches := make([]*ColorCache, numHistos)
	for i := 0; i < numHistos; i++ {
		histos[i] = NewHistogram(i)
		if i > 0 {
			caches[i] = NewColorCache(i)
		}
	}

	argbIdx := 0
	for ri := range refs.refs {
		v := &refs.refs[ri]
		if v.IsLiteral() {
			pix := argb[argbIdx]
			a := (pix >> 24) & 0xff
			r := (pix >> 16) & 0xff
			g := (pix >> 8) & 0xff
			b := pix & 0xff

			key := int((pix * kHashMul) >> uint(32-cacheBitsMax))

			// No cache: always four literal channels.
			histos[0].Alpha[a]++
			histos[0].Red[r]++
			histos[0].Literal[g]++
			histos[0].Blue[b]++

			for i := cacheBitsMax; i >= 1; i-- {
				if i < cacheBitsMax {
					key >>= 1
				}
				if caches[i].Colors[key] == pix {
					histos[i].Literal[NumLiteralCodes+NumLengthCodes+key]++
				} else {
					caches[i].Colors[key] = pix
					histos[i].Alpha[a]++
					histos[i].Red[r]++
					histos[i].Literal[g]++
					histos[i].Blue[b]++
				}
			}
			argbIdx++
		} else {
			// The length prefix contributes equally to every candidate;
			// the distance histogram is identical across candidates and
			// cancels out of the comparison.
			length := v.Length()
			lenCode, _ := PrefixEncodeBits(length)
			code := NumLiteralCodes + lenCode
			for i := 0; i < numHistos; i++ {
				histos[i].Literal[code]++
			}

			argbPrev := argb[argbIdx] ^ 0xffffffff
			for k := 0; k < length; k++ {
				pix := argb[argbIdx]
				if pix != argbPrev {
					key := int((pix * kHashMul) >> uint(32-cacheBitsMax))
					for i := cacheBitsMax; i >= 1; i-- {
						if i < cacheBitsMax {
							key >>= 1
						}
						caches[i].Colors[key] = pix
					}
					argbPrev = pix
				}
				argbIdx++
			}
		}
	}

	bestCacheBits := 0
	bestCost := uint64(math.MaxUint64)
	for i := 0; i < numHistos; i++ {
		cost := histos[i].EstimateBits()
		if i == 0 || cost < bestCost {
			bestCost = cost
			bestCacheBits = i
		}
	}
	return bestCacheBits
}

// histogramEstimateBitsFromRefs estimates the coded size of a token
// stream carrying raw copy distances.
func histogramEstimateBitsFromRefs(refs *BackwardRefs, cacheBits, xsize int) uint64 {
	if refs.Len() == 0 {
		return math.MaxUint64
	}
	h := NewHistogram(cacheBits)
	h.StoreRefs(refs, DistanceToPlaneCode, xsize)
	return h.EstimateBits()
}

// GetBackwardReferences runs the requested strategies (a bitmask of
// LZ77Standard and LZ77RLE), keeps the candidate with the lowest
// estimated coded size, picks a color cache size for it, and at
// qualities of traceQualityMin and above refines an LZ77 winner with
// the optimal parse. The resulting tokens, with plane-coded distances,
// are stored in best; the chosen cache bits are returned.
func GetBackwardReferences(width, height int, argb []uint32, quality, lz77Types,
	cacheBitsMax int, mf MatchFinder, best *BackwardRefs) (int, error) {
	pixCount := width * height
	if width <= 0 || height <= 0 || len(argb) < pixCount {
		return 0, ErrInvalidImageSize
	}

	bestCost := uint64(math.MaxUint64)
	bestLz77Type := 0
	candidate := NewBackwardRefs(pixCount)

	if lz77Types&LZ77Standard != 0 {
		BackwardReferencesLz77(width, height, argb, 0, mf, candidate)
		if cost := histogramEstimateBitsFromRefs(candidate, 0, width); cost < bestCost {
			bestCost = cost
			bestLz77Type = LZ77Standard
			candidate.CopyTo(best)
		}
	}
	if lz77Types&LZ77RLE != 0 {
		BackwardReferencesRle(width, height, argb, 0, candidate)
		if cost := histogramEstimateBitsFromRefs(candidate, 0, width); cost < bestCost {
			bestCost = cost
			bestLz77Type = LZ77RLE
			candidate.CopyTo(best)
		}
	}

	cacheBits := CalculateBestCacheSize(argb, quality, best, cacheBitsMax)
	if cacheBits > 0 {
		BackwardRefsWithLocalCache(argb, cacheBits, best)
	}
	bestCost = histogramEstimateBitsFromRefs(best, cacheBits, width)

	if bestLz77Type == LZ77Standard && quality >= traceQualityMin {
		traced := NewBackwardRefs(pixCount)
		if err := BackwardReferencesTraceBackwards(width, height, argb, cacheBits,
			mf, best, traced); err != nil {
			return 0, err
		}
		if traceCost := histogramEstimateBitsFromRefs(traced, cacheBits, width); traceCost < bestCost {
			bestCost = traceCost
			traced.CopyTo(best)
		}
	}

	BackwardReferences2DLocality(width, best)
	return cacheBits, nil
}
