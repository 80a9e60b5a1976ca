// Package cart implements cartridge ROM/RAM access and memory bank
// controller (MBC) emulation, per spec §3 "Cartridge/MBC state" and §4.2.
package cart

// Cartridge is the minimal interface the bus needs for ROM/RAM banking.
// Addresses are CPU addresses in 0x0000-0x7FFF (ROM + control) and
// 0xA000-0xBFFF (external RAM / RTC).
type Cartridge interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)
}

// BatteryBacked cartridges expose their external RAM so the host adapter can
// persist it between sessions (spec §6 "Persisted state").
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// RTCTicker advances a cartridge's real-time clock by whole seconds. Only
// MBC3 implements it; the host adapter drives it roughly once per emulated
// second (spec §4.2 "RTC").
type RTCTicker interface {
	TickSeconds(n int)
}

// New picks an implementation based on the ROM header's cartridge-type byte.
// An unparseable or unrecognized header falls back to ROM-only so that
// homebrew and raw-binary test images still run.
func New(rom []byte) Cartridge {
	h, err := ParseHeader(rom)
	if err != nil {
		return NewROMOnly(rom)
	}
	switch h.CartType {
	case 0x00:
		return NewROMOnly(rom)
	case 0x01, 0x02, 0x03:
		return NewMBC1(rom, h.RAMSizeBytes)
	case 0x05, 0x06:
		return NewMBC2(rom)
	case 0x0F, 0x10, 0x11, 0x12, 0x13:
		hasRAM := h.CartType != 0x0F && h.CartType != 0x11
		ramSize := 0
		if hasRAM {
			ramSize = h.RAMSizeBytes
		}
		hasRTC := h.CartType == 0x0F || h.CartType == 0x10
		return NewMBC3(rom, ramSize, hasRTC)
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		return NewMBC5(rom, h.RAMSizeBytes)
	default:
		return NewROMOnly(rom)
	}
}

// romBanks returns the number of whole 16 KiB banks backing rom (rounded
// down), with a minimum of 1 so bank indices computed modulo this count
// never divide by zero.
func romBanks(rom []byte) int {
	n := len(rom) / 0x4000
	if n < 1 {
		n = 1
	}
	return n
}
