package lossless

import "errors"

// Optimal-parse backward reference generation. A first pass runs a
// shortest-path search over the pixels where edges are "emit a literal"
// or "copy length k at some offset", using a cost model trained on a
// previous greedy pass. A second pass walks the recorded decisions
// backward to recover the chosen segmentation and re-emits it as
// tokens.
//
// Reference: libwebp/src/enc/backward_references_cost_enc.c

// ErrInvalidImageSize reports non-positive dimensions or an argb buffer
// shorter than xsize*ysize.
var ErrInvalidImageSize = errors.New("lossless: invalid image size")

// addSingleLiteralWithCostModel tries extending the path to pixel idx
// with a single literal (or cache reference) on top of prevCost. The
// scale factors bias the search toward cache hits and literals, as
// their costs tend to be underestimated by the model.
func addSingleLiteralWithCostModel(argb []uint32, hashers *ColorCache, model *CostModel,
	idx int, useColorCache bool, prevCost int64, costs []int64, distArray []uint16) {
	costVal := prevCost
	color := argb[idx]
	ix := -1
	if useColorCache {
		if i, ok := hashers.Contains(color); ok {
			ix = i
		}
	}
	if ix >= 0 {
		costVal += divRound(model.CacheCost(ix)*68, 100)
	} else {
		if useColorCache {
			hashers.Insert(color)
		}
		costVal += divRound(model.LiteralCost(color)*82, 100)
	}
	if costs[idx] > costVal {
		costs[idx] = costVal
		// The pixel is its own segment of length one.
		distArray[idx] = 1
	}
}

// backwardReferencesDistanceOnly runs the forward shortest-path pass.
// On return distArray[i] holds the length of the best segment ending at
// pixel i (1 for a literal). The cost manager is returned so callers
// can inspect the accumulated costs.
func backwardReferencesDistanceOnly(xsize, ysize int, argb []uint32, cacheBits int,
	mf MatchFinder, refs *BackwardRefs, distArray []uint16,
	cfg CostManagerConfig) (*CostManager, error) {
	pixCount := xsize * ysize
	if xsize <= 0 || ysize <= 0 || len(argb) < pixCount || len(distArray) < pixCount {
		return nil, ErrInvalidImageSize
	}
	useColorCache := cacheBits > 0
	var hashers *ColorCache
	if useColorCache {
		hashers = NewColorCache(cacheBits)
	}

	model, err := NewCostModel(xsize, cacheBits, refs)
	if err != nil {
		return nil, err
	}
	manager, err := NewCostManager(distArray, pixCount, model, cfg)
	if err != nil {
		return nil, err
	}
	costs := manager.Costs()

	// The first pixel can only be a literal.
	distArray[0] = 0
	addSingleLiteralWithCostModel(argb, hashers, model, 0, useColorCache, 0, costs, distArray)

	// Runs of pixels sharing one copy offset produce near-identical
	// contributions shifted by one pixel each. Tracking how far the
	// first contribution of the run reaches lets all the interior
	// pushes be skipped; only a push extending past the horizon adds
	// new information.
	offsetPrev, lenPrev := -1, -1
	var offsetCost int64
	firstOffsetIsConstant := false
	reach := 0

	for i := 1; i < pixCount; i++ {
		prevCost := costs[i-1]
		offset, length := mf.FindCopy(i)

		addSingleLiteralWithCostModel(argb, hashers, model, i, useColorCache, prevCost, costs, distArray)

		if length >= 2 {
			if offset != offsetPrev {
				code := DistanceToPlaneCode(xsize, offset)
				offsetCost = model.DistanceCost(code)
				firstOffsetIsConstant = true
				manager.PushInterval(prevCost+offsetCost, i, length)
			} else {
				if firstOffsetIsConstant {
					reach = i - 1 + lenPrev - 1
					firstOffsetIsConstant = false
				}
				if i+length-1 > reach {
					// Find the last pixel in [i, reach+1] still
					// carrying the same offset; its contribution
					// subsumes the ones in between.
					var offsetJ, lenJ int
					j := i
					for ; j <= reach; j++ {
						offsetJ, lenJ = mf.FindCopy(j + 1)
						if offsetJ != offset {
							break
						}
					}
					if j > reach || offsetJ != offset {
						_, lenJ = mf.FindCopy(j)
					}

					manager.UpdateCostAtIndex(j-1, false)
					manager.UpdateCostAtIndex(j, false)

					manager.PushInterval(costs[j-1]+offsetCost, j, lenJ)
					reach = j + lenJ - 1
				}
			}
		}

		manager.UpdateCostAtIndex(i, true)
		offsetPrev = offset
		lenPrev = length
	}
	return manager, nil
}

// traceBackwards recovers the chosen segmentation from the per-pixel
// decisions: starting at the last pixel, each entry names the length of
// the segment ending there, and jumping back by that length lands on
// the previous segment's end.
func traceBackwards(distArray []uint16) []uint16 {
	numSegments := 0
	for cur := len(distArray) - 1; cur >= 0; cur -= int(distArray[cur]) {
		numSegments++
	}
	path := make([]uint16, numSegments)
	pos := numSegments
	for cur := len(distArray) - 1; cur >= 0; cur -= int(distArray[cur]) {
		pos--
		path[pos] = distArray[cur]
	}
	return path
}

// followChosenPath re-walks the image along the chosen segmentation and
// emits the tokens, resolving each literal against the color cache as
// it goes.
func followChosenPath(argb []uint32, cacheBits int, chosenPath []uint16,
	mf MatchFinder, refs *BackwardRefs) {
	useColorCache := cacheBits > 0
	var hashers *ColorCache
	if useColorCache {
		hashers = NewColorCache(cacheBits)
	}
	refs.Reset()
	i := 0
	for _, lenRaw := range chosenPath {
		length := int(lenRaw)
		if length != 1 {
			offset := mf.FindOffset(i)
			refs.Add(CopyPixel(length, offset))
			if useColorCache {
				for k := 0; k < length; k++ {
					hashers.Insert(argb[i+k])
				}
			}
			i += length
		} else {
			var v PixOrCopy
			idx := -1
			if useColorCache {
				if ix, ok := hashers.Contains(argb[i]); ok {
					idx = ix
				}
			}
			if idx >= 0 {
				v = CachePixel(idx)
			} else {
				if useColorCache {
					hashers.Insert(argb[i])
				}
				v = LiteralPixel(argb[i])
			}
			refs.Add(v)
			i++
		}
	}
}

// BackwardReferencesTraceBackwards rewrites refsSrc into refsDst using
// the optimal parse: the cost model is trained on refsSrc, the forward
// pass finds the cheapest segmentation, and the chosen path is emitted
// as tokens. refsSrc is left untouched.
func BackwardReferencesTraceBackwards(xsize, ysize int, argb []uint32, cacheBits int,
	mf MatchFinder, refsSrc, refsDst *BackwardRefs) error {
	distArraySize := xsize * ysize
	if xsize <= 0 || ysize <= 0 || len(argb) < distArraySize {
		return ErrInvalidImageSize
	}
	distArray := make([]uint16, distArraySize)

	if _, err := backwardReferencesDistanceOnly(xsize, ysize, argb, cacheBits, mf,
		refsSrc, distArray, DefaultCostManagerConfig()); err != nil {
		return err
	}
	chosenPath := traceBackwards(distArray)
	followChosenPath(argb, cacheBits, chosenPath, mf, refsDst)
	return nil
}
