package apu

import "testing"

func TestPulseChannelTriggerProducesDuty(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF11, 0x80) // duty 2, length 0
	a.CPUWrite(0xFF12, 0xF0) // vol 15, decreasing direction, envelope off (period 0)
	a.CPUWrite(0xFF13, 0x00)
	a.CPUWrite(0xFF14, 0x87) // trigger, freq high bits 7

	if !a.ch1.enabled {
		t.Fatalf("expected channel 1 enabled after trigger")
	}
	if a.ch1.duty != 2 {
		t.Fatalf("expected duty 2, got %d", a.ch1.duty)
	}
	if a.ch1.curVol != 15 {
		t.Fatalf("expected initial volume 15, got %d", a.ch1.curVol)
	}
}

func TestPulseChannelDisabledByZeroVolumeDACOff(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0x00) // vol 0, decreasing (DAC off)
	a.CPUWrite(0xFF14, 0x80) // trigger
	if a.ch1.enabled {
		t.Fatalf("expected channel 1 to stay disabled when DAC is off")
	}
}

func TestWaveChannelRequiresDACEnable(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF1A, 0x00) // DAC off
	a.CPUWrite(0xFF1E, 0x80) // trigger
	if a.ch3.enabled {
		t.Fatalf("expected wave channel disabled with DAC off")
	}
	a.CPUWrite(0xFF1A, 0x80) // DAC on
	a.CPUWrite(0xFF1E, 0x80)
	if !a.ch3.enabled {
		t.Fatalf("expected wave channel enabled with DAC on and trigger")
	}
}

func TestLengthCounterDisablesChannelAtZero(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF11, 0x3F) // length = 64 - 63 = 1
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0xC0) // trigger, length enable

	// 512 Hz frame sequencer clocks length on even steps; cpuHz/512 cycles
	// per step. The first step lands on odd step 1 (no length clock); the
	// second lands on step 2, whose length clock takes length 1 to 0.
	a.Tick(cpuHz / 512)
	if !a.ch1.enabled {
		t.Fatalf("expected still enabled after the first frame-sequencer step")
	}
	a.Tick(cpuHz / 512)
	if a.ch1.enabled {
		t.Fatalf("expected channel disabled once length counter reaches zero")
	}
}

// TestPulseDutyProducesPeriodicWaveform exercises scenario S5: a 1 kHz pulse
// tone, once mixed, produces left-channel samples that swing both above
// +1000 and below -1000 within ~10ms.
func TestPulseDutyProducesPeriodicWaveform(t *testing.T) {
	a := NewWithConfig(48000, Config{ClickSuppression: false})
	// freq register for ~1kHz: f = 131072 / (2048 - x) => x = 2048 - 131072/1000
	x := 2048 - 131072/1000
	a.CPUWrite(0xFF11, 0x80) // duty 2 (50%)
	a.CPUWrite(0xFF12, 0xF0) // vol 15, no envelope sweep
	a.CPUWrite(0xFF24, 0x77)
	a.CPUWrite(0xFF25, 0xFF) // all channels to both speakers
	a.CPUWrite(0xFF13, byte(x&0xFF))
	a.CPUWrite(0xFF14, 0x80|byte((x>>8)&7))

	a.Tick(4194304 / 100) // ~10ms

	n := a.StereoAvailable()
	if n == 0 {
		t.Fatalf("expected samples to be produced")
	}
	samples := a.PullStereo(n)
	sawPositive, sawNegative := false, false
	for i := 0; i < len(samples); i += 2 {
		if samples[i] > 1000 {
			sawPositive = true
		}
		if samples[i] < -1000 {
			sawNegative = true
		}
	}
	if !sawPositive || !sawNegative {
		t.Fatalf("expected waveform to swing both positive and negative")
	}
}

func TestDCBlockerRemovesSteadyOffset(t *testing.T) {
	f := newDCBlocker(48000)
	var last float64
	for i := 0; i < 5000; i++ {
		last = f.Apply(0.5)
	}
	if last > 0.05 || last < -0.05 {
		t.Fatalf("expected DC component to decay toward zero, got %f", last)
	}
}

func TestPowerOffResetsRegistersButKeepsSampleRate(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF11, 0x80)
	a.CPUWrite(0xFF14, 0x80)
	a.CPUWrite(0xFF26, 0x00) // power off
	if a.enabled {
		t.Fatalf("expected APU disabled after NR52 power-off write")
	}
	if a.sampleRate != 44100 {
		t.Fatalf("expected sample rate preserved across power cycle, got %d", a.sampleRate)
	}
	a.CPUWrite(0xFF26, 0x80) // power on
	if !a.enabled {
		t.Fatalf("expected APU enabled after NR52 power-on write")
	}
}

func TestNR52ReportsChannelStatusBits(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x80)
	status := a.CPURead(0xFF26)
	if status&0x01 == 0 {
		t.Fatalf("expected channel 1 status bit set, got %02x", status)
	}
}
