package descipher

import "testing"

// TestEncrypt_KnownVector checks against the classical FIPS 46-3
// example vector (plaintext 0123456789ABCDEF under key
// 133457799BBCDFF1 yields 85E813540F0AB405), confirming the
// permutation tables and Feistel rounds are wired correctly before any
// VNC-specific bit reversal is layered on top.
func TestEncrypt_KnownVector(t *testing.T) {
	key := [8]byte{0x13, 0x34, 0x57, 0x79, 0x9B, 0xBC, 0xDF, 0xF1}
	plain := [8]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	want := [8]byte{0x85, 0xE8, 0x13, 0x54, 0x0F, 0x0A, 0xB4, 0x05}

	got := Encrypt(key, plain)
	if got != want {
		t.Errorf("Encrypt = %x, want %x", got, want)
	}
}

func TestVNCKey_ReversesBitsPerByte(t *testing.T) {
	key := VNCKey("a")
	// 'a' = 0x61 = 01100001, bit-reversed = 10000110 = 0x86.
	if key[0] != 0x86 {
		t.Errorf("VNCKey(\"a\")[0] = %#x, want 0x86", key[0])
	}
	for i := 1; i < 8; i++ {
		if key[i] != 0 {
			t.Errorf("VNCKey should zero-pad past password length, byte %d = %#x", i, key[i])
		}
	}
}

func TestVNCKey_TruncatesLongPasswords(t *testing.T) {
	key := VNCKey("0123456789")
	if want := VNCKey("01234567"); key != want {
		t.Fatalf("VNCKey(\"0123456789\") = %x, want %x (first 8 bytes only)", key, want)
	}
}

func TestEncrypt_IsDeterministic(t *testing.T) {
	key := VNCKey("password")
	var block [8]byte
	copy(block[:], "ABCDEFGH")
	a := Encrypt(key, block)
	b := Encrypt(key, block)
	if a != b {
		t.Errorf("Encrypt should be deterministic for the same key/block")
	}
}
