package lossless

// PixOrCopy is a single backward-reference token. Each token is one of:
//   - Literal: a single ARGB pixel value
//   - CacheIdx: an index into the color cache
//   - Copy: a (length, distance) back-reference
//
// Reference: libwebp/src/enc/backward_references_enc.h
type PixOrCopy struct {
	mode           uint8
	len            uint16
	argbOrDistance uint32
}

const (
	modeLiteral  uint8 = 0
	modeCacheIdx uint8 = 1
	modeCopy     uint8 = 2
)

// LiteralPixel creates a literal ARGB token.
func LiteralPixel(argb uint32) PixOrCopy {
	return PixOrCopy{mode: modeLiteral, argbOrDistance: argb, len: 1}
}

// CachePixel creates a color-cache index token.
func CachePixel(idx int) PixOrCopy {
	return PixOrCopy{mode: modeCacheIdx, argbOrDistance: uint32(idx), len: 1}
}

// CopyPixel creates a back-reference copy token.
func CopyPixel(length, distance int) PixOrCopy {
	return PixOrCopy{mode: modeCopy, argbOrDistance: uint32(distance), len: uint16(length)}
}

// IsLiteral reports whether the token is a literal ARGB pixel.
func (p *PixOrCopy) IsLiteral() bool { return p.mode == modeLiteral }

// IsCacheIdx reports whether the token is a color-cache index.
func (p *PixOrCopy) IsCacheIdx() bool { return p.mode == modeCacheIdx }

// IsCopy reports whether the token is a back-reference copy.
func (p *PixOrCopy) IsCopy() bool { return p.mode == modeCopy }

// Length returns the copy length (1 for literal and cache-index tokens).
func (p *PixOrCopy) Length() int { return int(p.len) }

// Distance returns the copy distance. Only valid for copy tokens.
func (p *PixOrCopy) Distance() int { return int(p.argbOrDistance) }

// Argb returns the ARGB value. Only valid for literal tokens.
func (p *PixOrCopy) Argb() uint32 { return p.argbOrDistance }

// CacheIndex returns the color-cache index. Only valid for cache-index
// tokens.
func (p *PixOrCopy) CacheIndex() int { return int(p.argbOrDistance) }

// BackwardRefs is a growable list of PixOrCopy tokens, the output of
// backward-reference generation and the input of the entropy coder.
type BackwardRefs struct {
	refs []PixOrCopy
}

// NewBackwardRefs allocates a BackwardRefs with pre-allocated capacity.
func NewBackwardRefs(capacity int) *BackwardRefs {
	return &BackwardRefs{refs: make([]PixOrCopy, 0, capacity)}
}

// Add appends a token to the list.
func (br *BackwardRefs) Add(v PixOrCopy) {
	br.refs = append(br.refs, v)
}

// Reset clears all stored tokens while retaining the underlying memory.
func (br *BackwardRefs) Reset() {
	br.refs = br.refs[:0]
}

// Len returns the number of stored tokens.
func (br *BackwardRefs) Len() int { return len(br.refs) }

// Refs returns the underlying token slice.
func (br *BackwardRefs) Refs() []PixOrCopy { return br.refs }

// PixelCount returns the total number of pixels the token list decodes
// to (the sum of all token lengths).
func (br *BackwardRefs) PixelCount() int {
	n := 0
	for i := range br.refs {
		n += int(br.refs[i].len)
	}
	return n
}

// CopyTo replaces the contents of dst with the tokens from br.
func (br *BackwardRefs) CopyTo(dst *BackwardRefs) {
	if cap(dst.refs) < len(br.refs) {
		dst.refs = make([]PixOrCopy, len(br.refs))
	} else {
		dst.refs = dst.refs[:len(br.refs)]
	}
	copy(dst.refs, br.refs)
}
