// Package emu wires the CPU, bus, PPU, APU, and cartridge into a single
// steppable machine: load a ROM, drive it one frame at a time, and pull the
// rendered framebuffer and audio samples out for a host adapter.
package emu

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/brunozalc/dmg/internal/apu"
	"github.com/brunozalc/dmg/internal/bus"
	"github.com/brunozalc/dmg/internal/cart"
	"github.com/brunozalc/dmg/internal/cpu"
	"github.com/brunozalc/dmg/internal/ppu"
)

const cyclesPerSecond = 4194304

// Buttons is the joypad state the host adapter samples once per frame.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Start {
		m |= bus.JoypStart
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Right {
		m |= bus.JoypRight
	}
	return m
}

// dmgShades maps the 2-bit color indices the PPU produces to the classic
// DMG off-green palette, lightest to darkest.
var dmgShades = [4][3]byte{
	{0xE0, 0xF8, 0xD0},
	{0x88, 0xC0, 0x70},
	{0x34, 0x68, 0x56},
	{0x08, 0x18, 0x20},
}

// Machine is a fully wired DMG: cartridge, bus, CPU, and the PPU/APU the bus
// owns.
type Machine struct {
	cfg     Config
	bus     *bus.Bus
	cpu     *cpu.CPU
	romPath string
	rgba    [160 * 144 * 4]byte
	rtcAcc  int
}

// New constructs an unloaded Machine; call LoadCartridge or LoadROMFromFile
// before stepping it.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// LoadCartridge wires a fresh Bus/CPU around rom, optionally mapping boot as
// the DMG boot ROM overlay. With no boot ROM the CPU starts at the
// documented post-boot register state (spec §4.1) at PC=0x0100, and the LCD
// is switched on with LCDC=0x91 as the boot ROM leaves it. A ROM image too
// small to hold a cartridge header is rejected with an error.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	if _, err := cart.ParseHeader(rom); err != nil {
		return fmt.Errorf("load cartridge: %w", err)
	}
	b := bus.New(rom, ppu.Config{LockLY90: m.cfg.LockLY90})
	b.SetAPUConfig(apu.Config{ClickSuppression: m.cfg.APUClickSuppression})
	if len(boot) > 0 {
		b.SetBootROM(boot)
	}
	m.bus = b
	c := cpu.New(b)
	if len(boot) == 0 {
		c.ResetNoBoot()
		b.Write(0xFF40, 0x91) // LCD on, BG on, 0x8000 tile data
	}
	m.cpu = c
	m.rtcAcc = 0
	return nil
}

// LoadROMFromFile reads path and loads it with no boot ROM.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	if err := m.LoadCartridge(rom, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path LoadROMFromFile was given, or "" for
// LoadCartridge-loaded machines.
func (m *Machine) ROMPath() string { return m.romPath }

// SetBootROM maps data as the boot ROM overlay and restarts the CPU at 0x0000
// to execute it.
func (m *Machine) SetBootROM(data []byte) {
	m.bus.SetBootROM(data)
	m.cpu.SetPC(0x0000)
}

// SetSerialWriter routes serial-port bytes (0xFF01 writes gated by 0xFF02
// bit 7) to w, used by test ROMs that report pass/fail over serial.
func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// SetButtons updates the joypad state the bus reports through 0xFF00.
func (m *Machine) SetButtons(b Buttons) { m.bus.SetJoypadState(b.mask()) }

// StepFrame runs the CPU until the PPU finishes a frame and leaves the
// rendered picture in Framebuffer.
func (m *Machine) StepFrame() { m.runFrame() }

// StepFrameNoRender behaves identically to StepFrame: the PPU compositor's
// cost is paid every scanline regardless of whether a caller reads the
// pixels afterward, so there's no cheaper path to skip to. The distinct name
// documents intent for headless callers (e.g. the serial-output test-ROM
// harness) that don't care about the picture.
func (m *Machine) StepFrameNoRender() { m.runFrame() }

func (m *Machine) runFrame() {
	p := m.bus.PPU()
	for !p.FrameComplete() {
		if m.cfg.Trace {
			pc := m.cpu.PC
			log.Printf("PC=%04X A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X",
				pc, m.cpu.A, m.cpu.F, m.cpu.B, m.cpu.C, m.cpu.D, m.cpu.E, m.cpu.H, m.cpu.L, m.cpu.SP)
		}
		cyc := m.cpu.Step()
		m.rtcAcc += cyc
		if m.rtcAcc >= cyclesPerSecond {
			m.rtcAcc -= cyclesPerSecond
			if rt, ok := m.bus.Cart().(cart.RTCTicker); ok {
				rt.TickSeconds(1)
			}
		}
	}
	m.renderRGBA()
}

func (m *Machine) renderRGBA() {
	fb := m.bus.PPU().Framebuffer()
	for i, shade := range fb {
		c := dmgShades[shade&3]
		o := i * 4
		m.rgba[o+0] = c[0]
		m.rgba[o+1] = c[1]
		m.rgba[o+2] = c[2]
		m.rgba[o+3] = 0xFF
	}
}

// Framebuffer returns the last rendered frame as 160x144 RGBA8888 bytes.
func (m *Machine) Framebuffer() []byte { return m.rgba[:] }

// APUBufferedStereo reports how many stereo frames are ready to pull.
func (m *Machine) APUBufferedStereo() int { return m.bus.APU().StereoAvailable() }

// APUPullStereo drains up to max interleaved stereo frames from the APU's
// ring buffer.
func (m *Machine) APUPullStereo(max int) []int16 { return m.bus.APU().PullStereo(max) }

// SaveBattery returns the cartridge's battery-backed RAM, or nil if the
// loaded cartridge has none.
func (m *Machine) SaveBattery() []byte {
	if bb, ok := m.bus.Cart().(cart.BatteryBacked); ok {
		return bb.SaveRAM()
	}
	return nil
}

// LoadBattery restores previously saved battery-backed RAM, if the loaded
// cartridge supports it.
func (m *Machine) LoadBattery(data []byte) {
	if bb, ok := m.bus.Cart().(cart.BatteryBacked); ok {
		bb.LoadRAM(data)
	}
}
