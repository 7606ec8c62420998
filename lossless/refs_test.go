package lossless

import "testing"

func TestPixOrCopyAccessors(t *testing.T) {
	lit := LiteralPixel(0xff123456)
	if !lit.IsLiteral() || lit.Argb() != 0xff123456 || lit.Length() != 1 {
		t.Errorf("literal token = %+v", lit)
	}

	cache := CachePixel(17)
	if !cache.IsCacheIdx() || cache.CacheIndex() != 17 || cache.Length() != 1 {
		t.Errorf("cache token = %+v", cache)
	}

	cp := CopyPixel(120, 33)
	if !cp.IsCopy() || cp.Length() != 120 || cp.Distance() != 33 {
		t.Errorf("copy token = %+v", cp)
	}
}

func TestBackwardRefsPixelCount(t *testing.T) {
	refs := NewBackwardRefs(4)
	refs.Add(LiteralPixel(0xff000001))
	refs.Add(CopyPixel(12, 3))
	refs.Add(CachePixel(2))
	if got := refs.PixelCount(); got != 14 {
		t.Errorf("PixelCount = %d, want 14", got)
	}

	refs.Reset()
	if refs.Len() != 0 || refs.PixelCount() != 0 {
		t.Errorf("after Reset: len %d, pixels %d", refs.Len(), refs.PixelCount())
	}
}

func TestBackwardRefsCopyTo(t *testing.T) {
	src := NewBackwardRefs(2)
	src.Add(LiteralPixel(0xffaa0000))
	src.Add(CopyPixel(8, 1))

	dst := NewBackwardRefs(0)
	dst.Add(CachePixel(9)) // must be discarded
	src.CopyTo(dst)

	if dst.Len() != src.Len() {
		t.Fatalf("dst len = %d, want %d", dst.Len(), src.Len())
	}
	for i := range src.Refs() {
		if src.Refs()[i] != dst.Refs()[i] {
			t.Errorf("token %d: %+v != %+v", i, dst.Refs()[i], src.Refs()[i])
		}
	}
}
