package lossless

import (
	"encoding/binary"
	"testing"

	"github.com/cespare/xxhash/v2"
)

// fillHashChain builds a match finder for the image at max quality.
func fillHashChain(argb []uint32, xsize, ysize int) *HashChain {
	hc := NewHashChain(xsize * ysize)
	hc.Fill(argb, 100, xsize, ysize, false)
	return hc
}

// naiveDistanceOnly mirrors the forward pass but pushes a full interval
// contribution for every matched pixel, never skipping runs that share
// the previous pixel's offset. Used to pin the run-skipping fast path
// against the exhaustive one.
func naiveDistanceOnly(t *testing.T, xsize, ysize int, argb []uint32, cacheBits int,
	mf MatchFinder, refs *BackwardRefs) []int64 {
	t.Helper()
	pixCount := xsize * ysize
	useColorCache := cacheBits > 0
	var hashers *ColorCache
	if useColorCache {
		hashers = NewColorCache(cacheBits)
	}
	model, err := NewCostModel(xsize, cacheBits, refs)
	if err != nil {
		t.Fatal(err)
	}
	distArray := make([]uint16, pixCount)
	manager, err := NewCostManager(distArray, pixCount, model, DefaultCostManagerConfig())
	if err != nil {
		t.Fatal(err)
	}
	costs := manager.Costs()

	distArray[0] = 0
	addSingleLiteralWithCostModel(argb, hashers, model, 0, useColorCache, 0, costs, distArray)
	for i := 1; i < pixCount; i++ {
		prevCost := costs[i-1]
		offset, length := mf.FindCopy(i)
		addSingleLiteralWithCostModel(argb, hashers, model, i, useColorCache, prevCost, costs, distArray)
		if length >= 2 {
			code := DistanceToPlaneCode(xsize, offset)
			manager.PushInterval(prevCost+model.DistanceCost(code), i, length)
		}
		manager.UpdateCostAtIndex(i, true)
	}
	return costs
}

func TestTraceSinglePixel(t *testing.T) {
	argb := []uint32{0xffaabbcc}
	hc := fillHashChain(argb, 1, 1)
	refsSrc := NewBackwardRefs(1)
	BackwardReferencesLz77(1, 1, argb, 0, hc, refsSrc)
	refsDst := NewBackwardRefs(1)

	if err := BackwardReferencesTraceBackwards(1, 1, argb, 0, hc, refsSrc, refsDst); err != nil {
		t.Fatal(err)
	}
	if refsDst.Len() != 1 {
		t.Fatalf("got %d tokens, want 1", refsDst.Len())
	}
	tok := refsDst.Refs()[0]
	if !tok.IsLiteral() || tok.Argb() != 0xffaabbcc {
		t.Errorf("token = %+v, want literal 0xffaabbcc", tok)
	}
}

func TestTraceUniformRowCollapses(t *testing.T) {
	argb := make([]uint32, 10)
	for i := range argb {
		argb[i] = 0xff336699
	}
	hc := fillHashChain(argb, 10, 1)
	refsSrc := NewBackwardRefs(10)
	BackwardReferencesLz77(10, 1, argb, 0, hc, refsSrc)
	refsDst := NewBackwardRefs(10)

	if err := BackwardReferencesTraceBackwards(10, 1, argb, 8, hc, refsSrc, refsDst); err != nil {
		t.Fatal(err)
	}
	if got := refsDst.PixelCount(); got != 10 {
		t.Fatalf("token pixel count = %d, want 10", got)
	}
	if refsDst.Len() >= 10 {
		t.Fatalf("uniform row produced %d tokens, want a collapsed stream", refsDst.Len())
	}
	hasCopy := false
	for _, tok := range refsDst.Refs() {
		if tok.IsCopy() {
			hasCopy = true
			if tok.Distance() != 1 {
				t.Errorf("copy distance = %d, want 1", tok.Distance())
			}
		}
	}
	if !hasCopy {
		t.Error("uniform row produced no copy token")
	}
	if got := reconstructPixels(refsDst, 8, false, 10); !equalPixels(got, argb) {
		t.Errorf("reconstruction mismatch: %v", got)
	}
}

func TestTraceDistinctPixelsAllLiteral(t *testing.T) {
	argb := make([]uint32, 16)
	for i := range argb {
		argb[i] = 0xff000000 | uint32(i*0x010203+1)
	}
	hc := fillHashChain(argb, 4, 4)
	refsSrc := NewBackwardRefs(16)
	BackwardReferencesLz77(4, 4, argb, 0, hc, refsSrc)
	refsDst := NewBackwardRefs(16)

	if err := BackwardReferencesTraceBackwards(4, 4, argb, 0, hc, refsSrc, refsDst); err != nil {
		t.Fatal(err)
	}
	if refsDst.Len() != 16 {
		t.Fatalf("got %d tokens, want 16 literals", refsDst.Len())
	}
	for i, tok := range refsDst.Refs() {
		if !tok.IsLiteral() || tok.Argb() != argb[i] {
			t.Errorf("token %d = %+v, want literal 0x%08x", i, tok, argb[i])
		}
	}
}

// A periodic image keeps reusing one copy offset, which drives the
// forward pass through its run-skipping branch. Skipped contributions
// must be provably redundant: the exhaustive pass lands on the same
// total cost.
func TestTracePeriodicRunSkipEquivalence(t *testing.T) {
	const period = 3
	const pixCount = 30
	palette := [period]uint32{0xffff0000, 0xff00ff00, 0xff0000ff}
	argb := make([]uint32, pixCount)
	for i := range argb {
		argb[i] = palette[i%period]
	}
	hc := fillHashChain(argb, pixCount, 1)
	refsSrc := NewBackwardRefs(pixCount)
	BackwardReferencesLz77(pixCount, 1, argb, 0, hc, refsSrc)

	distArray := make([]uint16, pixCount)
	manager, err := backwardReferencesDistanceOnly(pixCount, 1, argb, 0, hc, refsSrc,
		distArray, DefaultCostManagerConfig())
	if err != nil {
		t.Fatal(err)
	}
	fast := manager.Costs()
	naive := naiveDistanceOnly(t, pixCount, 1, argb, 0, hc, refsSrc)

	if fast[pixCount-1] != naive[pixCount-1] {
		t.Errorf("total cost with run skipping = %d, exhaustive = %d",
			fast[pixCount-1], naive[pixCount-1])
	}
}

func TestTracePathCoversEveryPixel(t *testing.T) {
	const xsize, ysize = 16, 8
	argb := makeTiledImage(xsize, ysize)
	hc := fillHashChain(argb, xsize, ysize)
	refsSrc := NewBackwardRefs(xsize * ysize)
	BackwardReferencesLz77(xsize, ysize, argb, 0, hc, refsSrc)

	distArray := make([]uint16, xsize*ysize)
	if _, err := backwardReferencesDistanceOnly(xsize, ysize, argb, 0, hc, refsSrc,
		distArray, DefaultCostManagerConfig()); err != nil {
		t.Fatal(err)
	}
	path := traceBackwards(distArray)
	total := 0
	for _, seg := range path {
		if seg < 1 {
			t.Fatalf("path segment of length %d", seg)
		}
		total += int(seg)
	}
	if total != xsize*ysize {
		t.Errorf("path covers %d pixels, want %d", total, xsize*ysize)
	}
}

// The optimal parse can never cost more than spelling out every pixel.
func TestTraceBeatsAllLiteralEncoding(t *testing.T) {
	const xsize, ysize = 16, 8
	argb := makeTiledImage(xsize, ysize)
	pixCount := xsize * ysize
	hc := fillHashChain(argb, xsize, ysize)
	refsSrc := NewBackwardRefs(pixCount)
	BackwardReferencesLz77(xsize, ysize, argb, 0, hc, refsSrc)

	distArray := make([]uint16, pixCount)
	manager, err := backwardReferencesDistanceOnly(xsize, ysize, argb, 0, hc, refsSrc,
		distArray, DefaultCostManagerConfig())
	if err != nil {
		t.Fatal(err)
	}
	costs := manager.Costs()
	for i, c := range costs {
		if c == maxCost {
			t.Fatalf("costs[%d] never reached", i)
		}
	}

	model, err := NewCostModel(xsize, 0, refsSrc)
	if err != nil {
		t.Fatal(err)
	}
	litCosts := make([]int64, pixCount)
	litDist := make([]uint16, pixCount)
	for i := range litCosts {
		litCosts[i] = maxCost
	}
	addSingleLiteralWithCostModel(argb, nil, model, 0, false, 0, litCosts, litDist)
	for i := 1; i < pixCount; i++ {
		addSingleLiteralWithCostModel(argb, nil, model, i, false, litCosts[i-1], litCosts, litDist)
	}
	if costs[pixCount-1] > litCosts[pixCount-1] {
		t.Errorf("optimal cost %d exceeds all-literal cost %d",
			costs[pixCount-1], litCosts[pixCount-1])
	}
}

// In the token replay, a color inserted into the cache earlier must come
// back as a cache index, never as a literal.
func TestFollowChosenPathCacheIdempotence(t *testing.T) {
	argb := []uint32{
		0xff111111, 0xff222222, 0xff333333, 0xff111111,
		0xff222222, 0xff444444, 0xff333333, 0xff111111,
	}
	hc := fillHashChain(argb, 8, 1)
	refs := NewBackwardRefs(8)
	// All-literal path.
	path := make([]uint16, 8)
	for i := range path {
		path[i] = 1
	}
	followChosenPath(argb, 8, path, hc, refs)

	seen := NewColorCache(8)
	for i, tok := range refs.Refs() {
		if _, cached := seen.Contains(argb[i]); cached {
			if !tok.IsCacheIdx() {
				t.Errorf("token %d: color 0x%08x already cached, emitted as %+v", i, argb[i], tok)
			}
		} else if !tok.IsLiteral() {
			t.Errorf("token %d: color 0x%08x not cached, emitted as %+v", i, argb[i], tok)
		}
		seen.Insert(argb[i])
	}
	if got := reconstructPixels(refs, 8, false, 8); !equalPixels(got, argb) {
		t.Errorf("reconstruction mismatch: %v", got)
	}
}

func TestTraceInvalidImageSize(t *testing.T) {
	refs := NewBackwardRefs(1)
	hc := NewHashChain(1)
	if err := BackwardReferencesTraceBackwards(0, 4, nil, 0, hc, refs, refs); err != ErrInvalidImageSize {
		t.Errorf("err = %v, want ErrInvalidImageSize", err)
	}
	if err := BackwardReferencesTraceBackwards(4, 4, make([]uint32, 3), 0, hc, refs, refs); err != ErrInvalidImageSize {
		t.Errorf("short argb: err = %v, want ErrInvalidImageSize", err)
	}
}

// fingerprintRun hashes everything the pass produces: the cost array,
// the backtrack array, and the emitted tokens.
func fingerprintRun(t *testing.T, argb []uint32, xsize, ysize, cacheBits int) uint64 {
	t.Helper()
	pixCount := xsize * ysize
	hc := fillHashChain(argb, xsize, ysize)
	refsSrc := NewBackwardRefs(pixCount)
	BackwardReferencesLz77(xsize, ysize, argb, 0, hc, refsSrc)

	distArray := make([]uint16, pixCount)
	manager, err := backwardReferencesDistanceOnly(xsize, ysize, argb, cacheBits, hc, refsSrc,
		distArray, DefaultCostManagerConfig())
	if err != nil {
		t.Fatal(err)
	}
	refsDst := NewBackwardRefs(pixCount)
	followChosenPath(argb, cacheBits, traceBackwards(distArray), hc, refsDst)

	h := xxhash.New()
	var buf [8]byte
	for _, c := range manager.Costs() {
		binary.LittleEndian.PutUint64(buf[:], uint64(c))
		h.Write(buf[:])
	}
	for _, d := range distArray {
		binary.LittleEndian.PutUint16(buf[:2], d)
		h.Write(buf[:2])
	}
	for _, tok := range refsDst.Refs() {
		binary.LittleEndian.PutUint32(buf[:4], tok.Argb())
		buf[4] = byte(tok.Length())
		buf[5] = byte(tok.Length() >> 8)
		h.Write(buf[:6])
	}
	return h.Sum64()
}

func TestTraceDeterministic(t *testing.T) {
	const xsize, ysize = 16, 16
	argb := makeTiledImage(xsize, ysize)
	first := fingerprintRun(t, argb, xsize, ysize, 6)
	for run := 0; run < 3; run++ {
		if got := fingerprintRun(t, argb, xsize, ysize, 6); got != first {
			t.Fatalf("run %d fingerprint %016x, want %016x", run, got, first)
		}
	}
}

func BenchmarkTraceBackwards(b *testing.B) {
	const xsize, ysize = 64, 64
	argb := makeTiledImage(xsize, ysize)
	hc := fillHashChain(argb, xsize, ysize)
	refsSrc := NewBackwardRefs(xsize * ysize)
	BackwardReferencesLz77(xsize, ysize, argb, 0, hc, refsSrc)
	refsDst := NewBackwardRefs(xsize * ysize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := BackwardReferencesTraceBackwards(xsize, ysize, argb, 4, hc, refsSrc, refsDst); err != nil {
			b.Fatal(err)
		}
	}
}
