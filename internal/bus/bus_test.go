package bus

import (
	"testing"

	"github.com/brunozalc/dmg/internal/ppu"
)

func TestBus_ROMAndRAM(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0100] = 0x42
	b := New(rom, ppu.Config{})

	if got := b.Read(0x0100); got != 0x42 {
		t.Fatalf("ROM read got %02x, want 42", got)
	}

	b.Write(0xC000, 0x99)
	if got := b.Read(0xC000); got != 0x99 {
		t.Fatalf("RAM read got %02x, want 99", got)
	}

	b.Write(0xE000, 0x55)
	if got := b.Read(0xC000); got != 0x55 {
		t.Fatalf("Echo write did not mirror to WRAM: got %02x", got)
	}

	b.Write(0xFF80, 0xAB)
	if got := b.Read(0xFF80); got != 0xAB {
		t.Fatalf("HRAM read got %02x, want AB", got)
	}

	if got := b.Read(0xA123); got != 0xFF {
		t.Fatalf("Ext RAM (ROM-only) got %02x, want FF", got)
	}
}

func TestBus_VRAM_OAM_InterruptRegs(t *testing.T) {
	b := New(make([]byte, 0x8000), ppu.Config{})

	b.Write(0x8000, 0x11)
	if got := b.Read(0x8000); got != 0x11 {
		t.Fatalf("VRAM read got %02x, want 11", got)
	}

	b.Write(0xFE00, 0x22)
	if got := b.Read(0xFE00); got != 0x22 {
		t.Fatalf("OAM read got %02x, want 22", got)
	}

	b.Write(0xFF0F, 0x3F)
	if got := b.Read(0xFF0F); got != 0xE0|0x1F {
		t.Fatalf("IF read got %02x, want %02x", got, 0xE0|0x1F)
	}

	b.Write(0xFFFF, 0x1B)
	if got := b.Read(0xFFFF); got != 0x1B {
		t.Fatalf("IE read got %02x, want 1B", got)
	}
}

func TestBus_TimerFallingEdgeIncrementsTIMA(t *testing.T) {
	b := New(make([]byte, 0x8000), ppu.Config{})
	b.Write(0xFF07, 0x05) // enabled, bit 3 (262144 Hz)
	b.Write(0xFF05, 0x10)

	// 16 T-cycles is a full period of bit 3; expect exactly one increment.
	b.Tick(16)
	if got := b.Read(0xFF05); got != 0x11 {
		t.Fatalf("TIMA got %02x want 11", got)
	}
}

func TestBus_TIMAOverflowReloadsFromTMAAfterDelay(t *testing.T) {
	b := New(make([]byte, 0x8000), ppu.Config{})
	b.Write(0xFF06, 0x7A) // TMA
	b.Write(0xFF07, 0x05) // enabled, bit 3
	b.Write(0xFF05, 0xFF)

	b.Tick(16) // one full falling-edge period at bit 3 -> overflow -> 0x00, reload scheduled
	if got := b.Read(0xFF05); got != 0x00 {
		t.Fatalf("TIMA right after overflow got %02x want 00", got)
	}

	b.Tick(4) // reload delay elapses
	if got := b.Read(0xFF05); got != 0x7A {
		t.Fatalf("TIMA after reload got %02x want 7A", got)
	}
	if got := b.Read(0xFF0F); got&0x04 == 0 {
		t.Fatalf("expected timer interrupt flag set, got %02x", got)
	}
}

func TestBus_EchoRAMLastByteMirrorsWRAM(t *testing.T) {
	b := New(make([]byte, 0x8000), ppu.Config{})
	b.Write(0xFE00-1, 0x01) // 0xFDFF, last echo byte, maps to 0xDDFF
	if got := b.Read(0xDDFF); got != 0x01 {
		t.Fatalf("echo boundary write got %02x want 01", got)
	}
}

func TestBus_OAMDMACopiesAndBlocksOAMWrites(t *testing.T) {
	rom := make([]byte, 0x8000)
	for i := 0; i < 0xA0; i++ {
		rom[0x1000+i] = byte(i + 1)
	}
	b := New(rom, ppu.Config{})

	b.Write(0xFF46, 0x10) // source = 0x1000
	if !b.DMAInProgress() {
		t.Fatalf("expected DMA in progress immediately after trigger")
	}

	b.Write(0xFE00, 0xEE) // should be ignored while DMA is active
	b.Tick(4 * 0xA0)

	if b.DMAInProgress() {
		t.Fatalf("expected DMA to have completed")
	}
	if got := b.Read(0xFE00); got != 0x01 {
		t.Fatalf("OAM[0] after DMA got %02x want 01", got)
	}
	if got := b.Read(0xFE9F); got != 0xA0 {
		t.Fatalf("OAM[0x9F] after DMA got %02x want A0", got)
	}
}

func TestBus_JoypadActiveLowReadAndEdgeInterrupt(t *testing.T) {
	b := New(make([]byte, 0x8000), ppu.Config{})
	b.Write(0xFF00, 0x20) // P14=0 (bit4 clear) selects the d-pad group
	b.SetJoypadState(JoypRight)

	got := b.Read(0xFF00)
	if got&0x01 != 0 {
		t.Fatalf("expected bit0 cleared for pressed Right, got %02x", got)
	}
	if iflag := b.Read(0xFF0F); iflag&0x10 == 0 {
		t.Fatalf("expected joypad interrupt flag set, got %02x", iflag)
	}
}
