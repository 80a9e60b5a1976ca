package ppu

import "testing"

func TestApplyPaletteIdentity(t *testing.T) {
	if got := applyPalette(0xE4, 0); got != 0 {
		t.Fatalf("palette 0 got %d want 0", got)
	}
	if got := applyPalette(0xE4, 1); got != 1 {
		t.Fatalf("palette 1 got %d want 1", got)
	}
	if got := applyPalette(0xE4, 3); got != 3 {
		t.Fatalf("palette 3 got %d want 3", got)
	}
}

func TestScanOAMLimitsToTenAndSortsByX(t *testing.T) {
	p := New(func(bit int) {}, Config{})
	p.CPUWrite(0xFF40, 0x80)
	for i := 0; i < 12; i++ {
		off := i * 4
		p.oam[off] = 20   // y, on-screen at LY=4 for 8px sprites (y-16=4)
		p.oam[off+1] = byte(100 - i)
		p.oam[off+2] = 0
		p.oam[off+3] = 0
	}
	p.ly = 4
	p.scanOAM()
	if len(p.sprites) != 10 {
		t.Fatalf("expected 10 sprites collected, got %d", len(p.sprites))
	}
	for i := 1; i < len(p.sprites); i++ {
		if p.sprites[i-1].x > p.sprites[i].x {
			t.Fatalf("sprites not sorted ascending by x")
		}
	}
}

func TestRenderSpritesTransparencyAndBGPriority(t *testing.T) {
	p := New(func(bit int) {}, Config{})
	p.CPUWrite(0xFF48, 0xE4) // OBP0 identity

	// tile 0: leftmost pixel opaque (ci=1), rest transparent (ci=0).
	p.vram[0x8000-0x8000] = 0x80 // lo, bit7 set
	p.vram[0x8001-0x8000] = 0x00 // hi

	p.sprites = []spriteDescriptor{{y: 21, x: 18, tile: 0, attr: 0, oamIndex: 0}} // screen x=10, y: ly=5 -> row 0

	var bgRaw [160]byte
	out := make([]byte, 160)
	p.renderSprites(5, bgRaw[:], out)
	if out[10] == 0 {
		t.Fatalf("expected opaque sprite pixel at x=10")
	}

	// BG-over-OBJ: when set and underlying bg is non-zero, sprite is hidden.
	p.sprites[0].attr = 0x80
	bgRaw[10] = 1
	out = make([]byte, 160)
	p.renderSprites(5, bgRaw[:], out)
	if out[10] != 0 {
		t.Fatalf("expected sprite hidden behind non-zero BG pixel, got %d", out[10])
	}
}
