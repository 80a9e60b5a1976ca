// Package apu implements the four-channel sound generator: two pulse
// channels with duty cycles and frequency sweep, one wave channel with
// 32x4-bit sample RAM, one LFSR noise channel, NR50/NR51 stereo mixing, and
// the DC-blocking high-pass filter spec §4.5 requires on the final mix.
package apu

const cpuHz = 4194304

// Config carries mixing knobs that affect audible polish but not the
// channels' correctness.
type Config struct {
	// ClickSuppression smooths per-channel amplitude transitions to reduce
	// the audible "pop" a hard on/off step produces. Default on: it is an
	// audio-quality knob, not a correctness property (Open Question decision
	// D.2). The DC-blocking high-pass filter is always applied regardless of
	// this flag - it is a specified mixing step, not optional polish.
	ClickSuppression bool
}

// DefaultConfig returns the production-path APU mixing configuration.
func DefaultConfig() Config { return Config{ClickSuppression: true} }

// APU is a DMG audio unit: four channels, a 512 Hz frame sequencer driving
// length/envelope/sweep, and NR50/NR51 stereo mixing into a ring buffer.
type APU struct {
	enabled bool
	cfg     Config

	sampleRate      int
	cyclesPerSample float64
	cycAccum        float64
	mixGain         float64

	fsCounter int
	fsStep    int

	sL    []int16
	sR    []int16
	sHead int
	sTail int

	// last emitted stereo pair, for fade-on-underrun (spec §4.5).
	lastL, lastR int16

	dcL dcBlocker
	dcR dcBlocker

	smoothed [4]float64 // click-suppression state per channel

	nr50 byte
	nr51 byte
	nr52 byte

	ch1 chSquare
	ch2 chSquare
	ch3 chWave
	ch4 chNoise
}

type chSquare struct {
	enabled bool
	duty    byte
	length  int
	lenEn   bool
	vol     byte
	envDir  int8
	envPer  byte
	curVol  byte
	envTmr  byte
	freq    uint16
	timer   int
	phase   int

	sweepPer    byte
	sweepNeg    bool
	sweepShift  byte
	sweepTmr    byte
	sweepEn     bool
	sweepShadow uint16
}

type chWave struct {
	enabled bool
	dacEn   bool
	length  int
	lenEn   bool
	volCode byte
	freq    uint16
	timer   int
	pos     int
	ram     [16]byte
}

type chNoise struct {
	enabled bool
	length  int
	lenEn   bool
	vol     byte
	envDir  int8
	envPer  byte
	curVol  byte
	envTmr  byte
	shift   byte
	width7  bool
	divSel  byte
	timer   int
	lfsr    uint16
}

var dutyTable = [4][8]byte{
	{0, 0, 0, 0, 0, 0, 0, 1},
	{1, 0, 0, 0, 0, 0, 0, 1},
	{1, 0, 0, 0, 0, 1, 1, 1},
	{0, 1, 1, 1, 1, 1, 1, 0},
}

func New(sampleRate int) *APU { return NewWithConfig(sampleRate, DefaultConfig()) }

func NewWithConfig(sampleRate int, cfg Config) *APU {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	a := &APU{
		enabled:         true,
		cfg:             cfg,
		sampleRate:      sampleRate,
		cyclesPerSample: float64(cpuHz) / float64(sampleRate),
		mixGain:         0.20,
		fsCounter:       cpuHz / 512,
		sL:              make([]int16, 16384),
		sR:              make([]int16, 16384),
		dcL:             newDCBlocker(sampleRate),
		dcR:             newDCBlocker(sampleRate),
	}
	a.nr50 = 0x77
	a.nr51 = 0xFF
	return a
}

func (a *APU) CPURead(addr uint16) byte {
	switch addr {
	case 0xFF10:
		n := (a.ch1.sweepPer & 7) << 4
		if a.ch1.sweepNeg {
			n |= 1 << 3
		}
		n |= a.ch1.sweepShift & 7
		return 0x80 | n
	case 0xFF11:
		return (a.ch1.duty << 6) | byte(0x3F-(a.ch1.length&0x3F))
	case 0xFF12:
		dir := byte(0)
		if a.ch1.envDir > 0 {
			dir = 1
		}
		return (a.ch1.vol << 4) | (dir << 3) | (a.ch1.envPer & 7)
	case 0xFF13:
		return byte(a.ch1.freq & 0xFF)
	case 0xFF14:
		return (boolToByte(a.ch1.lenEn) << 6) | byte((a.ch1.freq>>8)&7)
	case 0xFF16:
		return (a.ch2.duty << 6) | byte(0x3F-(a.ch2.length&0x3F))
	case 0xFF17:
		dir := byte(0)
		if a.ch2.envDir > 0 {
			dir = 1
		}
		return (a.ch2.vol << 4) | (dir << 3) | (a.ch2.envPer & 7)
	case 0xFF18:
		return byte(a.ch2.freq & 0xFF)
	case 0xFF19:
		return (boolToByte(a.ch2.lenEn) << 6) | byte((a.ch2.freq>>8)&7)
	case 0xFF1A:
		if a.ch3.dacEn {
			return 0x80
		}
		return 0x00
	case 0xFF1B:
		return byte(0xFF - (a.ch3.length & 0xFF))
	case 0xFF1C:
		return (a.ch3.volCode << 5) | 0x9F
	case 0xFF1D:
		return byte(a.ch3.freq & 0xFF)
	case 0xFF1E:
		return (boolToByte(a.ch3.lenEn) << 6) | byte((a.ch3.freq>>8)&7)
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		return a.ch3.ram[addr-0xFF30]
	case 0xFF20:
		return byte(0x3F - (a.ch4.length & 0x3F))
	case 0xFF21:
		dir := byte(0)
		if a.ch4.envDir > 0 {
			dir = 1
		}
		return (a.ch4.vol << 4) | (dir << 3) | (a.ch4.envPer & 7)
	case 0xFF22:
		w := byte(0)
		if a.ch4.width7 {
			w = 1
		}
		return (a.ch4.shift << 4) | (w << 3) | (a.ch4.divSel & 7)
	case 0xFF23:
		return boolToByte(a.ch4.lenEn) << 6
	case 0xFF24:
		return a.nr50
	case 0xFF25:
		return a.nr51
	case 0xFF26:
		chFlags := byte(0)
		if a.ch1.enabled {
			chFlags |= 1 << 0
		}
		if a.ch2.enabled {
			chFlags |= 1 << 1
		}
		if a.ch3.enabled {
			chFlags |= 1 << 2
		}
		if a.ch4.enabled {
			chFlags |= 1 << 3
		}
		return 0x70 | (boolToByte(a.enabled) << 7) | chFlags
	default:
		return 0xFF
	}
}

func (a *APU) CPUWrite(addr uint16, v byte) {
	switch addr {
	case 0xFF10:
		a.ch1.sweepPer = (v >> 4) & 7
		a.ch1.sweepNeg = (v & (1 << 3)) != 0
		a.ch1.sweepShift = v & 7
	case 0xFF11:
		a.ch1.duty = (v >> 6) & 3
		a.ch1.length = 64 - int(v&0x3F)
	case 0xFF12:
		a.ch1.vol = (v >> 4) & 0x0F
		if (v & (1 << 3)) != 0 {
			a.ch1.envDir = 1
		} else {
			a.ch1.envDir = -1
		}
		a.ch1.envPer = v & 7
		if (v & 0xF8) == 0 {
			a.ch1.enabled = false
		}
	case 0xFF13:
		a.ch1.freq = (a.ch1.freq & 0x0700) | uint16(v)
		a.reloadCh1Timer()
	case 0xFF14:
		a.ch1.lenEn = (v & (1 << 6)) != 0
		a.ch1.freq = (a.ch1.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh1()
		}
	case 0xFF16:
		a.ch2.duty = (v >> 6) & 3
		a.ch2.length = 64 - int(v&0x3F)
	case 0xFF17:
		a.ch2.vol = (v >> 4) & 0x0F
		if (v & (1 << 3)) != 0 {
			a.ch2.envDir = 1
		} else {
			a.ch2.envDir = -1
		}
		a.ch2.envPer = v & 7
		if (v & 0xF8) == 0 {
			a.ch2.enabled = false
		}
	case 0xFF18:
		a.ch2.freq = (a.ch2.freq & 0x0700) | uint16(v)
		a.reloadCh2Timer()
	case 0xFF19:
		a.ch2.lenEn = (v & (1 << 6)) != 0
		a.ch2.freq = (a.ch2.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh2()
		}
	case 0xFF1A:
		a.ch3.dacEn = (v & 0x80) != 0
		if !a.ch3.dacEn {
			a.ch3.enabled = false
		}
	case 0xFF1B:
		a.ch3.length = 256 - int(v)
	case 0xFF1C:
		a.ch3.volCode = (v >> 5) & 3
	case 0xFF1D:
		a.ch3.freq = (a.ch3.freq & 0x0700) | uint16(v)
		a.reloadCh3Timer()
	case 0xFF1E:
		a.ch3.lenEn = (v & (1 << 6)) != 0
		a.ch3.freq = (a.ch3.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh3()
		}
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		a.ch3.ram[addr-0xFF30] = v
	case 0xFF24:
		a.nr50 = v
	case 0xFF25:
		a.nr51 = v
	case 0xFF26:
		pwr := (v & (1 << 7)) != 0
		if !pwr {
			sampleRate, cfg := a.sampleRate, a.cfg
			*a = *NewWithConfig(sampleRate, cfg)
			a.enabled = false
		} else {
			a.enabled = true
		}
	case 0xFF20:
		a.ch4.length = 64 - int(v&0x3F)
	case 0xFF21:
		a.ch4.vol = (v >> 4) & 0x0F
		if (v & (1 << 3)) != 0 {
			a.ch4.envDir = 1
		} else {
			a.ch4.envDir = -1
		}
		a.ch4.envPer = v & 7
		if (v & 0xF8) == 0 {
			a.ch4.enabled = false
		}
	case 0xFF22:
		a.ch4.shift = (v >> 4) & 0x0F
		a.ch4.width7 = (v & (1 << 3)) != 0
		a.ch4.divSel = v & 7
		a.reloadCh4Timer()
	case 0xFF23:
		a.ch4.lenEn = (v & (1 << 6)) != 0
		if (v & (1 << 7)) != 0 {
			a.triggerCh4()
		}
	}
}

func (a *APU) triggerCh1() {
	if a.ch1.vol == 0 && a.ch1.envDir < 0 {
		a.ch1.enabled = false
	} else {
		a.ch1.enabled = true
	}
	if a.ch1.length == 0 {
		a.ch1.length = 64
	}
	a.ch1.phase = 0
	a.reloadCh1Timer()
	a.ch1.curVol = a.ch1.vol
	per := a.ch1.envPer
	if per == 0 {
		per = 8
	}
	a.ch1.envTmr = per
	a.ch1.sweepShadow = a.ch1.freq & 0x7FF
	a.ch1.sweepEn = (a.ch1.sweepPer != 0) || (a.ch1.sweepShift != 0)
	st := a.ch1.sweepPer
	if st == 0 {
		st = 8
	}
	a.ch1.sweepTmr = st
	if a.ch1.sweepShift != 0 {
		if a.calcCh1Sweep() > 2047 {
			a.ch1.enabled = false
		}
	}
}

func (a *APU) triggerCh2() {
	if a.ch2.vol == 0 && a.ch2.envDir < 0 {
		a.ch2.enabled = false
		return
	}
	a.ch2.enabled = true
	if a.ch2.length == 0 {
		a.ch2.length = 64
	}
	a.ch2.phase = 0
	a.reloadCh2Timer()
	a.ch2.curVol = a.ch2.vol
	per := a.ch2.envPer
	if per == 0 {
		per = 8
	}
	a.ch2.envTmr = per
}

func (a *APU) reloadCh1Timer() {
	periodCycles := int(4 * (2048 - (a.ch1.freq & 0x7FF)))
	if periodCycles < 8 {
		periodCycles = 8
	}
	a.ch1.timer = periodCycles
}

func (a *APU) reloadCh2Timer() {
	periodCycles := int(4 * (2048 - (a.ch2.freq & 0x7FF)))
	if periodCycles < 8 {
		periodCycles = 8
	}
	a.ch2.timer = periodCycles
}

func (a *APU) reloadCh3Timer() {
	periodCycles := int(2 * (2048 - (a.ch3.freq & 0x7FF)))
	if periodCycles < 2 {
		periodCycles = 2
	}
	a.ch3.timer = periodCycles
}

func (a *APU) triggerCh3() {
	if !a.ch3.dacEn {
		a.ch3.enabled = false
	} else {
		a.ch3.enabled = true
	}
	if a.ch3.length == 0 {
		a.ch3.length = 256
	}
	a.ch3.pos = 0
	a.reloadCh3Timer()
}

func (a *APU) triggerCh4() {
	if a.ch4.vol == 0 && a.ch4.envDir < 0 {
		a.ch4.enabled = false
	} else {
		a.ch4.enabled = true
	}
	if a.ch4.length == 0 {
		a.ch4.length = 64
	}
	a.ch4.curVol = a.ch4.vol
	per := a.ch4.envPer
	if per == 0 {
		per = 8
	}
	a.ch4.envTmr = per
	a.ch4.lfsr = 0x7FFF
	a.reloadCh4Timer()
}

func (a *APU) reloadCh4Timer() {
	divTable := [8]int{8, 16, 32, 48, 64, 80, 96, 112}
	div := divTable[int(a.ch4.divSel&7)]
	period := div << int(a.ch4.shift)
	if period < 2 {
		period = 2
	}
	a.ch4.timer = period
}

// Tick advances the APU by cycles T-states, clocking the frame sequencer,
// channel timers, and the LFSR, and emits stereo samples at the sample
// rate the APU was constructed with (spec §4.5).
func (a *APU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if !a.enabled {
			continue
		}
		a.fsCounter--
		if a.fsCounter <= 0 {
			a.fsCounter += cpuHz / 512
			a.fsStep = (a.fsStep + 1) & 7
			if a.fsStep%2 == 0 {
				a.clockLength()
			}
			if a.fsStep == 2 || a.fsStep == 6 {
				a.clockSweep()
			}
			if a.fsStep == 7 {
				a.clockEnvelope()
			}
		}
		if a.ch1.enabled {
			a.ch1.timer--
			if a.ch1.timer <= 0 {
				a.reloadCh1Timer()
				a.ch1.phase = (a.ch1.phase + 1) & 7
			}
		}
		if a.ch2.enabled {
			a.ch2.timer--
			if a.ch2.timer <= 0 {
				a.reloadCh2Timer()
				a.ch2.phase = (a.ch2.phase + 1) & 7
			}
		}
		if a.ch3.enabled {
			a.ch3.timer--
			if a.ch3.timer <= 0 {
				a.reloadCh3Timer()
				a.ch3.pos = (a.ch3.pos + 1) & 31
			}
		}
		if a.ch4.enabled {
			a.ch4.timer--
			if a.ch4.timer <= 0 {
				a.reloadCh4Timer()
				x := (a.ch4.lfsr ^ (a.ch4.lfsr >> 1)) & 1
				a.ch4.lfsr >>= 1
				a.ch4.lfsr |= x << 14
				if a.ch4.width7 {
					a.ch4.lfsr &^= 1 << 6
					a.ch4.lfsr |= x << 6
				}
			}
		}

		a.cycAccum += 1
		for a.cycAccum >= a.cyclesPerSample {
			a.cycAccum -= a.cyclesPerSample
			l, r := a.mixSampleStereo()
			a.pushStereo(l, r)
		}
	}
}

func (a *APU) clockLength() {
	if a.ch1.lenEn && a.ch1.length > 0 {
		a.ch1.length--
		if a.ch1.length <= 0 {
			a.ch1.enabled = false
		}
	}
	if a.ch2.lenEn && a.ch2.length > 0 {
		a.ch2.length--
		if a.ch2.length <= 0 {
			a.ch2.enabled = false
		}
	}
	if a.ch3.lenEn && a.ch3.length > 0 {
		a.ch3.length--
		if a.ch3.length <= 0 {
			a.ch3.enabled = false
		}
	}
	if a.ch4.lenEn && a.ch4.length > 0 {
		a.ch4.length--
		if a.ch4.length <= 0 {
			a.ch4.enabled = false
		}
	}
}

func (a *APU) clockEnvelope() {
	clock := func(enabled bool, per byte, tmr *byte, dir int8, vol *byte) {
		if !enabled || per == 0 {
			return
		}
		if *tmr > 0 {
			*tmr--
		}
		if *tmr == 0 {
			*tmr = per
			if dir > 0 && *vol < 15 {
				*vol++
			} else if dir < 0 && *vol > 0 {
				*vol--
			}
		}
	}
	clock(a.ch1.enabled, a.ch1.envPer, &a.ch1.envTmr, a.ch1.envDir, &a.ch1.curVol)
	clock(a.ch2.enabled, a.ch2.envPer, &a.ch2.envTmr, a.ch2.envDir, &a.ch2.curVol)
	clock(a.ch4.enabled, a.ch4.envPer, &a.ch4.envTmr, a.ch4.envDir, &a.ch4.curVol)
}

func (a *APU) clockSweep() {
	if !a.ch1.enabled || !a.ch1.sweepEn || a.ch1.sweepPer == 0 {
		return
	}
	if a.ch1.sweepTmr > 0 {
		a.ch1.sweepTmr--
	}
	if a.ch1.sweepTmr == 0 {
		a.ch1.sweepTmr = a.ch1.sweepPer
		nf := a.calcCh1Sweep()
		if nf > 2047 {
			a.ch1.enabled = false
		} else {
			a.ch1.sweepShadow = uint16(nf)
			a.ch1.freq = (a.ch1.freq &^ 0x07FF) | (uint16(nf) & 0x07FF)
			a.reloadCh1Timer()
			if a.calcCh1Sweep() > 2047 {
				a.ch1.enabled = false
			}
		}
	}
}

func (a *APU) calcCh1Sweep() int {
	base := int(a.ch1.sweepShadow)
	if a.ch1.sweepShift == 0 {
		return base
	}
	delta := base >> a.ch1.sweepShift
	if a.ch1.sweepNeg {
		return base - delta
	}
	return base + delta
}

// channelAmp returns channel i's instantaneous analog output in [-1, 1],
// applying click-suppression smoothing when enabled (spec §4.5, Open
// Question decision D.2).
func (a *APU) channelAmp(i int, raw float64) float64 {
	if !a.cfg.ClickSuppression {
		return raw
	}
	a.smoothed[i] = a.smoothed[i]*0.7 + raw*0.3
	return a.smoothed[i]
}

// mixSampleStereo forms one stereo sample pair: per-channel outputs, NR51
// panning, NR50 master volume, and the DC-blocking high-pass filter.
func (a *APU) mixSampleStereo() (int16, int16) {
	var c1, c2, c3, c4 float64
	if a.ch1.enabled {
		amp := float64(a.ch1.curVol) / 15.0
		if dutyTable[a.ch1.duty][a.ch1.phase] != 0 {
			c1 = amp
		} else {
			c1 = -amp
		}
		c1 = a.channelAmp(0, c1)
	}
	if a.ch2.enabled {
		amp := float64(a.ch2.curVol) / 15.0
		if dutyTable[a.ch2.duty][a.ch2.phase] != 0 {
			c2 = amp
		} else {
			c2 = -amp
		}
		c2 = a.channelAmp(1, c2)
	}
	if a.ch3.enabled && a.ch3.dacEn {
		b := a.ch3.ram[a.ch3.pos>>1]
		var n4 byte
		if (a.ch3.pos & 1) == 0 {
			n4 = (b >> 4) & 0x0F
		} else {
			n4 = b & 0x0F
		}
		if a.ch3.volCode != 0 {
			shift := a.ch3.volCode - 1
			scaled := float64(n4 >> shift)
			max := float64(int(15) >> shift)
			if max < 1 {
				max = 1
			}
			c3 = a.channelAmp(2, (scaled/max)*2.0-1.0)
		}
	}
	if a.ch4.enabled {
		amp := float64(a.ch4.curVol) / 15.0
		if ((^a.ch4.lfsr) & 1) != 0 {
			c4 = amp
		} else {
			c4 = -amp
		}
		c4 = a.channelAmp(3, c4)
	}

	rMask := a.nr51 & 0x0F
	lMask := (a.nr51 >> 4) & 0x0F
	var l, r float64
	if lMask&0x1 != 0 {
		l += c1
	}
	if lMask&0x2 != 0 {
		l += c2
	}
	if lMask&0x4 != 0 {
		l += c3
	}
	if lMask&0x8 != 0 {
		l += c4
	}
	if rMask&0x1 != 0 {
		r += c1
	}
	if rMask&0x2 != 0 {
		r += c2
	}
	if rMask&0x4 != 0 {
		r += c3
	}
	if rMask&0x8 != 0 {
		r += c4
	}

	lv := (float64((a.nr50>>4)&0x07) + 1) / 8.0
	rv := (float64(a.nr50&0x07) + 1) / 8.0
	l *= lv * a.mixGain
	r *= rv * a.mixGain

	l = a.dcL.Apply(l)
	r = a.dcR.Apply(r)

	l = clamp(l, -1, 1)
	r = clamp(r, -1, 1)
	return int16(l * 32767), int16(r * 32767)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (a *APU) pushStereo(l, r int16) {
	next := (a.sHead + 1) & (len(a.sL) - 1)
	if next == a.sTail {
		return
	}
	a.sL[a.sHead] = l
	a.sR[a.sHead] = r
	a.sHead = next
	a.lastL, a.lastR = l, r
}

// PullStereo returns up to max interleaved stereo frames ([L0,R0,L1,R1,...]).
// On underrun it returns fading copies of the last emitted sample rather
// than silence (spec §4.5).
func (a *APU) PullStereo(max int) []int16 {
	if max <= 0 {
		return nil
	}
	avail := a.StereoAvailable()
	out := make([]int16, 0, max*2)
	for i := 0; i < avail && i < max; i++ {
		out = append(out, a.sL[a.sTail], a.sR[a.sTail])
		a.sTail = (a.sTail + 1) & (len(a.sL) - 1)
	}
	for i := avail; i < max; i++ {
		a.lastL = int16(float64(a.lastL) * 0.9)
		a.lastR = int16(float64(a.lastR) * 0.9)
		out = append(out, a.lastL, a.lastR)
	}
	return out
}

func (a *APU) StereoAvailable() int {
	if a.sHead == a.sTail {
		return 0
	}
	if a.sHead >= a.sTail {
		return a.sHead - a.sTail
	}
	return (len(a.sL) - a.sTail) + a.sHead
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
