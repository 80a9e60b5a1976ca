package ppu

import "sort"

// renderBGLine composites 160 background pixels (raw color indices 0..3,
// pre-palette) for scanline ly. Grounded on the teacher's
// RenderBGScanlineUsingFetcher, generalized to take the live PPU as the
// VRAM source instead of a test fake.
func renderBGLine(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	tileIndexAddr := mapBase + mapY*32 + tileX

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	for i := 0; i < fineX; i++ {
		_, _ = q.Pop()
	}

	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// renderWindowLine composites the window layer starting at screen column
// wxStart, using winLine as the row within the window's own coordinate
// space. Columns left of wxStart are left at 0.
func renderWindowLine(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	var out [160]byte
	if wxStart >= 160 {
		return out
	}
	start := wxStart
	if start < 0 {
		start = 0
	}

	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileX := uint16(0)
	tileIndexAddr := mapBase + mapY*32 + tileX

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	for x := start; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

func applyPalette(palette, colorIndex byte) byte {
	return (palette >> (colorIndex * 2)) & 0x03
}

// scanOAM collects up to 10 sprites visible on the current scanline and
// orders them by draw priority: x ascending, then OAM index ascending
// (spec §4.3 "OAM scan").
func (p *PPU) scanOAM() {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	ly := int(p.ly)

	var found []spriteDescriptor
	for i := 0; i < 40 && len(found) < 10; i++ {
		off := i * 4
		y := p.oam[off]
		top := int(y) - 16
		if ly >= top && ly < top+height {
			found = append(found, spriteDescriptor{
				y: y, x: p.oam[off+1], tile: p.oam[off+2], attr: p.oam[off+3], oamIndex: i,
			})
		}
	}
	sort.SliceStable(found, func(a, b int) bool { return found[a].x < found[b].x })
	p.sprites = found
}

// renderScanline composites background, window, and sprite layers for the
// current LY into the framebuffer. Called on the mode-3 -> mode-0 (HBlank)
// transition, when a real LCD would have finished drawing the row.
func (p *PPU) renderScanline() {
	ly := int(p.ly)
	if ly < 0 || ly >= 144 {
		return
	}

	var bgRaw [160]byte
	if p.lcdc&0x01 != 0 {
		mapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		bgRaw = renderBGLine(p, mapBase, p.lcdc&0x10 != 0, p.scx, p.scy, byte(ly))

		windowEnabled := p.lcdc&0x20 != 0
		wxStart := int(p.wx) - 7
		if windowEnabled && ly >= int(p.wy) && wxStart < 160 {
			p.windowWasVisible = true
			winMapBase := uint16(0x9800)
			if p.lcdc&0x40 != 0 {
				winMapBase = 0x9C00
			}
			winLine := renderWindowLine(p, winMapBase, p.lcdc&0x10 != 0, wxStart, byte(p.windowLine))
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				bgRaw[x] = winLine[x]
			}
			p.windowLine++
		}
	}

	var out [160]byte
	for x := 0; x < 160; x++ {
		out[x] = applyPalette(p.bgp, bgRaw[x])
	}

	if p.lcdc&0x02 != 0 {
		p.renderSprites(ly, bgRaw[:], out[:])
	}

	copy(p.fb[ly*160:ly*160+160], out[:])
}

// renderSprites paints the scanline's collected sprites over out, walking
// them in reverse priority order so the highest-priority sprite's pixels
// are the last ones written (spec §4.3 "Sprite rendering").
func (p *PPU) renderSprites(ly int, bgRaw, out []byte) {
	tall := p.lcdc&0x04 != 0
	height := 8
	if tall {
		height = 16
	}

	for i := len(p.sprites) - 1; i >= 0; i-- {
		s := p.sprites[i]
		row := ly - (int(s.y) - 16)
		if s.attr&0x40 != 0 {
			row = height - 1 - row
		}
		lo, hi := spriteRow(p, s.tile, tall, row)

		xFlip := s.attr&0x20 != 0
		palette := p.obp0
		if s.attr&0x10 != 0 {
			palette = p.obp1
		}
		bgPriority := s.attr&0x80 != 0
		screenX := int(s.x) - 8

		for px := 0; px < 8; px++ {
			sx := screenX + px
			if sx < 0 || sx >= 160 {
				continue
			}
			var bit byte
			if xFlip {
				bit = byte(px)
			} else {
				bit = 7 - byte(px)
			}
			ci := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
			if ci == 0 {
				continue
			}
			if bgPriority && bgRaw[sx] != 0 {
				continue
			}
			out[sx] = applyPalette(palette, ci)
		}
	}
}

// Read implements VRAMReader against the PPU's own VRAM, bypassing the
// CPU-facing mode-3 access lockout (the compositor runs on the PPU's own
// clock, not the CPU's).
func (p *PPU) Read(addr uint16) byte {
	return p.vramRead(addr)
}
