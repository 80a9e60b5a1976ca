package emu

import "testing"

// minimalROM builds a 32KiB ROM-only cartridge image running prog at 0x0100
// (the real entry point after boot), with a valid-enough header for
// cart.ParseHeader to succeed.
func minimalROM(prog []byte) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x0100:], prog)
	rom[0x0147] = 0x00 // ROM ONLY
	rom[0x0148] = 0x00 // 32KiB
	rom[0x0149] = 0x00 // no RAM
	return rom
}

func TestMachineRunsOneFrame(t *testing.T) {
	// LD A,0xFF; JR -2 (spin forever at 0x0102)
	prog := []byte{0x3E, 0xFF, 0x18, 0xFE}
	m := New(Defaults())
	if err := m.LoadCartridge(minimalROM(prog), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.StepFrame()
	fb := m.Framebuffer()
	if len(fb) != 160*144*4 {
		t.Fatalf("framebuffer length got %d want %d", len(fb), 160*144*4)
	}
}

func TestMachineJoypadReachesBus(t *testing.T) {
	m := New(Defaults())
	if err := m.LoadCartridge(minimalROM([]byte{0x00}), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.SetButtons(Buttons{A: true, Right: true})
	m.bus.SetJoypadState(0) // sanity: direct bus access still works internally
	m.SetButtons(Buttons{Up: true})
	m.bus.Write(0xFF00, 0x20) // select the d-pad row
	if got := m.bus.Read(0xFF00); got&0x04 != 0 {
		t.Fatalf("JOYP got %02x, want Up bit (2) clear", got)
	}
}

func TestMachineAPUProducesSamplesOverAFrame(t *testing.T) {
	// Program: enable ch1 with a tone, then spin.
	prog := []byte{
		0x3E, 0x80, 0xE0, 0x11, // LD A,0x80; LDH (FF11),A  duty=2,len=0
		0x3E, 0xF0, 0xE0, 0x12, // LD A,0xF0; LDH (FF12),A  vol 15
		0x3E, 0x00, 0xE0, 0x13, // LD A,0x00; LDH (FF13),A  freq lo
		0x3E, 0x87, 0xE0, 0x14, // LD A,0x87; LDH (FF14),A  trigger, freq hi=7
		0x18, 0xFE, // JR -2
	}
	m := New(Defaults())
	if err := m.LoadCartridge(minimalROM(prog), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.StepFrame()
	if m.APUBufferedStereo() == 0 {
		t.Fatalf("expected some stereo samples buffered after a frame")
	}
	samples := m.APUPullStereo(m.APUBufferedStereo())
	if len(samples) == 0 {
		t.Fatalf("expected PullStereo to return samples")
	}
}

func TestMachineSaveAndLoadBattery(t *testing.T) {
	rom := minimalROM([]byte{0x00})
	rom[0x0147] = 0x03 // MBC1+RAM+BATTERY
	rom[0x0149] = 0x02 // 8KiB RAM

	m := New(Defaults())
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.bus.Write(0x0000, 0x0A) // enable RAM
	m.bus.Write(0xA000, 0x42)
	saved := m.SaveBattery()
	if saved == nil {
		t.Fatalf("expected battery RAM to be saveable for MBC1+BATTERY")
	}

	m2 := New(Defaults())
	if err := m2.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m2.LoadBattery(saved)
	m2.bus.Write(0x0000, 0x0A)
	if v := m2.bus.Read(0xA000); v != 0x42 {
		t.Fatalf("restored battery RAM got %02x want 42", v)
	}
}
