package cart

import "testing"

func buildTestROM(cartType, romSizeCode, ramSizeCode byte) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x0104:0x0134], nintendoLogoRef[:])
	copy(rom[0x0134:0x0144], []byte("TESTROM"))
	rom[0x0147] = cartType
	rom[0x0148] = romSizeCode
	rom[0x0149] = ramSizeCode
	var sum byte
	for i := 0x0134; i <= 0x014C; i++ {
		sum = sum - rom[i] - 1
	}
	rom[0x014D] = sum
	return rom
}

func TestParseHeader_Basic(t *testing.T) {
	rom := buildTestROM(0x01, 0x00, 0x02)
	h, err := ParseHeader(rom)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Title != "TESTROM" {
		t.Fatalf("Title got %q want TESTROM", h.Title)
	}
	if h.CartType != 0x01 {
		t.Fatalf("CartType got %02X want 01", h.CartType)
	}
	if h.ROMBanks != 2 {
		t.Fatalf("ROMBanks got %d want 2", h.ROMBanks)
	}
	if h.RAMSizeBytes != 8*1024 {
		t.Fatalf("RAMSizeBytes got %d want 8192", h.RAMSizeBytes)
	}
}

func TestHeaderChecksumOK(t *testing.T) {
	rom := buildTestROM(0x00, 0x00, 0x00)
	if !HeaderChecksumOK(rom) {
		t.Fatalf("expected valid header checksum")
	}
	rom[0x014D] ^= 0xFF
	if HeaderChecksumOK(rom) {
		t.Fatalf("expected corrupted header checksum to fail")
	}
}

func TestDecodeRAMSize_MBC2(t *testing.T) {
	if got := decodeRAMSize(0x05, 0x00); got != 512 {
		t.Fatalf("MBC2 RAM size got %d want 512", got)
	}
}

func TestParseHeader_TooShort(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 0x100)); err == nil {
		t.Fatalf("expected error for truncated ROM")
	}
}

var nintendoLogoRef = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83,
	0x00, 0x0C, 0x00, 0x0D, 0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E,
	0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99, 0xBB, 0xBB, 0x67, 0x63,
	0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}
