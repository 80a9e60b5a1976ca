// Package bus implements the 16-bit address-space dispatch described in
// spec §4.2: cartridge ROM/RAM, VRAM/OAM (via the PPU), work RAM, high RAM,
// the timer, joypad, serial port, OAM DMA, and the interrupt registers.
package bus

import (
	"io"

	"github.com/brunozalc/dmg/internal/apu"
	"github.com/brunozalc/dmg/internal/cart"
	"github.com/brunozalc/dmg/internal/ppu"
)

// Bus wires the CPU-visible address space to every other component. It is
// the single point the CPU's memory accessor and the PPU's DMA routine go
// through.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF; echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu *ppu.PPU
	apu *apu.APU

	ie    byte // 0xFFFF
	ifReg byte // 0xFF0F, low 5 bits significant

	joypSelect byte
	joypad     byte
	joypLower4 byte

	div             byte
	tima            byte
	tma             byte
	tac             byte
	timaReloadDelay int
	divInternal     uint16

	sb byte
	sc byte
	sw io.Writer

	dma         byte
	dmaActive   bool
	dmaSrc      uint16
	dmaIndex    int
	dmaSubCycle int

	bootROM     []byte
	bootEnabled bool
}

// New constructs a Bus from raw ROM bytes, picking an MBC implementation
// from the cartridge header.
func New(rom []byte, ppuCfg ppu.Config) *Bus {
	return NewWithCartridge(cart.New(rom), ppuCfg)
}

// NewWithCartridge wires a pre-built cartridge, for tests and for hosts that
// need a custom cartridge implementation.
func NewWithCartridge(c cart.Cartridge, ppuCfg ppu.Config) *Bus {
	b := &Bus{cart: c}
	b.ppu = ppu.New(func(bit int) { b.ifReg |= 1 << bit }, ppuCfg)
	b.apu = apu.NewWithConfig(48000, apu.DefaultConfig())
	return b
}

// PPU exposes the PPU for framebuffer access by the host adapter.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU exposes the APU for stereo sample pulls by the host adapter.
func (b *Bus) APU() *apu.APU { return b.apu }

// SetAPUConfig replaces the APU's mixing configuration, preserving its
// current sample rate.
func (b *Bus) SetAPUConfig(cfg apu.Config) {
	b.apu = apu.NewWithConfig(48000, cfg)
}

// Cart exposes the cartridge for battery-RAM and RTC operations.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// DMAInProgress reports whether an OAM DMA transfer is underway. cpu.Step
// consults this to suppress interrupt servicing during the transfer, per
// spec §4.3 and the Open Question decision in DESIGN.md.
func (b *Bus) DMAInProgress() bool { return b.dmaActive }

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		return b.wram[mirror-0xC000]
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFF00:
		res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
		if (b.joypSelect & 0x10) == 0 {
			if b.joypad&JoypRight != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypLeft != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypUp != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypDown != 0 {
				res &^= 0x08
			}
		}
		if (b.joypSelect & 0x20) == 0 {
			if b.joypad&JoypA != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypB != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypSelectBtn != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypStart != 0 {
				res &^= 0x08
			}
		}
		return res
	case addr == 0xFF04:
		return b.div
	case addr == 0xFF05:
		return b.tima
	case addr == 0xFF06:
		return b.tma
	case addr == 0xFF07:
		return 0xF8 | (b.tac & 0x07)
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr >= 0xFF10 && addr <= 0xFF26:
		return b.apu.CPURead(addr)
	case addr >= 0xFF30 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror >= 0xC000 && mirror <= 0xDDFF {
			b.wram[mirror-0xC000] = value
		}
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		// prohibited region, writes ignored
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
	case addr == 0xFF04:
		oldInput := b.timerInput()
		b.divInternal = 0
		b.div = 0
		if oldInput && !b.timerInput() {
			b.incrementTIMA()
		}
	case addr == 0xFF05:
		b.tima = value
		b.timaReloadDelay = 0
	case addr == 0xFF06:
		b.tma = value
	case addr == 0xFF07:
		oldInput := b.timerInput()
		b.tac = value & 0x07
		if oldInput && !b.timerInput() {
			b.incrementTIMA()
		}
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if (b.sc & 0x80) != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ifReg |= 1 << 3
			b.sc &^= 0x80
		}
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
		b.dmaSubCycle = 0
	case addr >= 0xFF10 && addr <= 0xFF26:
		b.apu.CPUWrite(addr, value)
	case addr >= 0xFF30 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
	case addr == 0xFFFF:
		b.ie = value
	}
}

// Joypad button bitmasks for SetJoypadState; a set bit means pressed.
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// IE/IF exposed for cpu.Step's interrupt dispatch.
func (b *Bus) IE() byte        { return b.ie }
func (b *Bus) IF() byte        { return b.ifReg }
func (b *Bus) SetIF(v byte)    { b.ifReg = v & 0x1F }
func (b *Bus) ClearIFBit(i int) { b.ifReg &^= 1 << uint(i) }

// SetBootROM maps a 256-byte DMG boot ROM at 0x0000-0x00FF until a non-zero
// write to 0xFF50 disables the overlay.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances the timer, PPU, and any in-flight OAM DMA by cycles T-states.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		oldInput := b.timerInput()
		b.divInternal++
		b.div = byte(b.divInternal >> 8)
		newInput := b.timerInput()
		falling := oldInput && !newInput

		if b.timaReloadDelay > 0 {
			b.timaReloadDelay--
			if b.timaReloadDelay == 0 {
				b.tima = b.tma
				b.ifReg |= 1 << 2
			}
		}
		if falling {
			b.incrementTIMA()
		}

		b.ppu.Tick(1)
		b.apu.Tick(1)

		if b.dmaActive {
			// One byte every 4 T-cycles (spec §4.3 "each ticking the system
			// by 4 cycles"), for a 640-cycle transfer overall.
			b.dmaSubCycle++
			if b.dmaSubCycle >= 4 {
				b.dmaSubCycle = 0
				if b.dmaIndex < 0xA0 {
					v := b.Read(b.dmaSrc + uint16(b.dmaIndex))
					b.ppu.CPUWrite(0xFE00+uint16(b.dmaIndex), v)
					b.dmaIndex++
				}
				if b.dmaIndex >= 0xA0 {
					b.dmaActive = false
				}
			}
		}
	}
}

// timerInput computes the current timer clock input after TAC gating
// (spec §4.4).
func (b *Bus) timerInput() bool {
	if (b.tac & 0x04) == 0 {
		return false
	}
	var bit uint
	switch b.tac & 0x03 {
	case 0x00:
		bit = 9
	case 0x01:
		bit = 3
	case 0x02:
		bit = 5
	case 0x03:
		bit = 7
	}
	return ((b.divInternal >> bit) & 1) != 0
}

func (b *Bus) incrementTIMA() {
	if b.timaReloadDelay > 0 {
		return
	}
	if b.tima == 0xFF {
		b.tima = 0x00
		b.timaReloadDelay = 4
		return
	}
	b.tima++
}

// updateJoypadIRQ recomputes JOYP's active-low lower nibble and requests
// the joypad interrupt on any 1->0 transition.
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	if (b.joypSelect & 0x10) == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.ifReg |= 1 << 4
	}
	b.joypLower4 = newLower
}
