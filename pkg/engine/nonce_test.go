package engine

import (
	"strings"
	"testing"

	"github.com/sworrl/LaundR/pkg/classic"
)

func TestNoncePairing(t *testing.T) {
	var p NoncePool
	p.SetCUID([4]byte{0x44, 0x33, 0x22, 0x11})

	p.Observe(5, classic.KeyTypeA, 0x11111111, 0x22222222, 0x33333333)
	if p.Complete() != 0 || p.Len() != 1 {
		t.Fatalf("after first observe: complete=%d len=%d", p.Complete(), p.Len())
	}

	p.Observe(5, classic.KeyTypeA, 0x44444444, 0x55555555, 0x66666666)
	if p.Complete() != 1 {
		t.Fatalf("pair not completed: complete=%d", p.Complete())
	}

	// A third attempt for the same sector and key type opens a new
	// record instead of touching the completed one.
	p.Observe(5, classic.KeyTypeA, 0x77777777, 0x88888888, 0x99999999)
	if p.Complete() != 1 || p.Len() != 2 {
		t.Fatalf("third observe: complete=%d len=%d, want 1, 2", p.Complete(), p.Len())
	}

	var sb strings.Builder
	n, err := p.Export(&sb)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 1 {
		t.Fatalf("exported %d lines, want 1", n)
	}
	want := "Sec 5 key A cuid 44332211 nt0 11111111 nr0 22222222 ar0 33333333 nt1 44444444 nr1 55555555 ar1 66666666\n"
	if sb.String() != want {
		t.Fatalf("export line:\n got %q\nwant %q", sb.String(), want)
	}
}

func TestNonceDistinctKeyTypesDoNotPair(t *testing.T) {
	var p NoncePool
	p.Observe(3, classic.KeyTypeA, 1, 2, 3)
	p.Observe(3, classic.KeyTypeB, 4, 5, 6)
	if p.Complete() != 0 || p.Len() != 2 {
		t.Fatalf("complete=%d len=%d, want 0, 2", p.Complete(), p.Len())
	}
}

func TestNonceKeyBFlags(t *testing.T) {
	var p NoncePool
	if p.WriteKeySeen() {
		t.Fatal("write-key flag set on empty pool")
	}
	p.Observe(1, classic.KeyTypeB, 1, 2, 3)
	if !p.WriteKeySeen() {
		t.Fatal("write-key flag not set on Key B record creation")
	}
	if p.KeyBCount() != 1 {
		t.Fatalf("KeyBCount = %d, want 1", p.KeyBCount())
	}
	p.Observe(1, classic.KeyTypeB, 4, 5, 6)
	if p.Complete() != 1 {
		t.Fatal("Key B pair not completed")
	}
	// Completion does not open a record, so the Key B record count
	// stays at one.
	if p.KeyBCount() != 1 {
		t.Fatalf("KeyBCount after completion = %d, want 1", p.KeyBCount())
	}
}

func TestNoncePoolFullDropsSilently(t *testing.T) {
	var p NoncePool
	for i := 0; i < 2*NoncePoolSize; i++ {
		p.Observe(2, classic.KeyTypeA, uint32(i), uint32(i)+1, uint32(i)+2)
	}
	if p.Len() != NoncePoolSize || p.Complete() != NoncePoolSize {
		t.Fatalf("len=%d complete=%d, want %d, %d", p.Len(), p.Complete(), NoncePoolSize, NoncePoolSize)
	}
	if p.Dropped() != 0 {
		t.Fatalf("Dropped = %d before the pool overflowed", p.Dropped())
	}
	p.Observe(2, classic.KeyTypeA, 0xAA, 0xBB, 0xCC)
	if p.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", p.Dropped())
	}
	if p.Len() != NoncePoolSize {
		t.Fatalf("Len grew past the pool bound: %d", p.Len())
	}
}

func TestNonceCUIDStampedAtCreation(t *testing.T) {
	var p NoncePool
	p.SetCUID([4]byte{0xAA, 0x00, 0x00, 0x01})
	p.Observe(7, classic.KeyTypeB, 1, 2, 3)

	// The UID rotates mid-pair; the record keeps its creation UID so
	// the exported line stays crackable.
	p.SetCUID([4]byte{0xBB, 0x00, 0x00, 0x02})
	p.Observe(7, classic.KeyTypeB, 4, 5, 6)

	var sb strings.Builder
	if _, err := p.Export(&sb); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(sb.String(), "cuid aa000001") {
		t.Fatalf("record lost its creation cuid: %q", sb.String())
	}
}

func TestNonceReset(t *testing.T) {
	var p NoncePool
	p.Observe(1, classic.KeyTypeB, 1, 2, 3)
	p.Observe(1, classic.KeyTypeB, 4, 5, 6)
	p.Reset()
	if p.Len() != 0 || p.Complete() != 0 || p.KeyBCount() != 0 || p.WriteKeySeen() || p.Dropped() != 0 {
		t.Fatal("Reset left state behind")
	}
	var sb strings.Builder
	if n, _ := p.Export(&sb); n != 0 {
		t.Fatalf("exported %d lines after reset", n)
	}
}
