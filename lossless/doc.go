// Package lossless implements VP8L backward-reference generation for
// lossless WebP encoding: the greedy LZ77 and RLE token producers, and
// the cost-based optimal parse that refines them.
//
// The optimal parse is a Zopfli-style dynamic program over the pixel
// stream. A CostModel converts symbol histograms into fixed-point bit
// cost estimates, and a CostManager maintains the per-pixel cost array
// together with a sorted list of non-overlapping cost intervals, which
// amortizes the per-candidate cost propagation that would otherwise be
// quadratic in the match length. Tracing the recorded decisions
// backward yields the cheapest token sequence.
//
// The package consumes a MatchFinder (HashChain is the production
// implementation) and a ColorCache, and produces a BackwardRefs token
// list for the entropy coder.
//
// Reference: libwebp/src/enc/backward_references_enc.c and
// backward_references_cost_enc.c
package lossless
