package classic

import "testing"

// loadedStore builds a store around a minimal CSC-shaped image with a
// known balance.
func loadedStore(t *testing.T, cents uint16) *Store {
	t.Helper()
	img := &Image{}
	img.SetUID([4]byte{0xCD, 0x4A, 0x50, 0xB7})
	b := purse(cents, 1)
	img.Blocks[BalanceBlock] = b
	img.Valid[BalanceBlock] = true
	img.Blocks[MirrorBlock] = b
	img.Valid[MirrorBlock] = true

	s := NewStore()
	s.LoadOriginal(img)
	return s
}

func TestLoadOriginalSeedsAllThreeLayers(t *testing.T) {
	s := loadedStore(t, 5000)
	for _, l := range []Layer{LayerOriginal, LayerPersisted, LayerLive} {
		img := s.Image(l)
		if !img.Valid[BalanceBlock] {
			t.Fatalf("%s layer missing balance block", l)
		}
		if v, ok := Balance(img.Blocks[BalanceBlock]); !ok || v != 5000 {
			t.Fatalf("%s layer balance = (%d, %v), want (5000, true)", l, v, ok)
		}
	}
	if s.HasModifications() {
		t.Fatal("fresh load reports modifications")
	}
}

func TestPersistedEditLeavesOriginalUntouched(t *testing.T) {
	s := loadedStore(t, 5000)

	edited := s.Persisted().Blocks[BalanceBlock]
	SetBalance(&edited, 9000)
	s.ApplyPersistedEdit(BalanceBlock, edited)

	if v, _ := Balance(s.Original().Blocks[BalanceBlock]); v != 5000 {
		t.Fatalf("original layer moved to %d", v)
	}
	if v, ok := s.PersistedBalance(); !ok || v != 9000 {
		t.Fatalf("persisted balance = (%d, %v), want (9000, true)", v, ok)
	}
	if !s.HasModifications() {
		t.Fatal("edit did not set modification flag")
	}

	// Re-applying the identical block is a no-op on the flag.
	s.ClearModifications()
	s.ApplyPersistedEdit(BalanceBlock, edited)
	if s.HasModifications() {
		t.Fatal("identical re-edit set modification flag")
	}
}

func TestResetLiveDiscardsSessionDivergence(t *testing.T) {
	s := loadedStore(t, 5000)

	live := s.Live()
	drained := live.Blocks[BalanceBlock]
	SetBalance(&drained, 4500)
	live.Blocks[BalanceBlock] = drained

	s.ResetLiveFromPersisted()
	if v, _ := Balance(s.Live().Blocks[BalanceBlock]); v != 5000 {
		t.Fatalf("live balance after reset = %d, want 5000", v)
	}
}

func TestCommitSelectedBlocksOnly(t *testing.T) {
	s := loadedStore(t, 5000)

	live := s.Live()
	b4 := live.Blocks[BalanceBlock]
	SetBalance(&b4, 7000)
	live.Blocks[BalanceBlock] = b4
	live.Blocks[MirrorBlock] = b4

	s.CommitLiveToPersisted(BalanceBlock)

	if v, _ := s.PersistedBalance(); v != 7000 {
		t.Fatalf("persisted balance = %d, want 7000", v)
	}
	if v, _ := Balance(s.Persisted().Blocks[MirrorBlock]); v != 5000 {
		t.Fatalf("mirror committed without being selected: %d", v)
	}
}

func TestCommitAllFoldsEveryLiveBlock(t *testing.T) {
	s := loadedStore(t, 5000)

	live := s.Live()
	b := live.Blocks[BalanceBlock]
	SetBalance(&b, 6500)
	live.Blocks[BalanceBlock] = b
	live.Blocks[MirrorBlock] = b

	s.CommitLiveToPersisted()

	if v, _ := s.PersistedBalance(); v != 6500 {
		t.Fatalf("persisted balance = %d, want 6500", v)
	}
	if s.Persisted().Blocks[MirrorBlock] != b {
		t.Fatal("mirror block not committed")
	}
}

func TestCommitIdenticalBytesDoesNotFlagModification(t *testing.T) {
	s := loadedStore(t, 5000)
	s.CommitLiveToPersisted()
	if s.HasModifications() {
		t.Fatal("committing an unchanged live layer flagged modifications")
	}
}

func TestDiffReportsChangedBytesWithOffsets(t *testing.T) {
	s := loadedStore(t, 5000)

	live := s.Live()
	b := live.Blocks[BalanceBlock]
	SetBalance(&b, 4500)
	live.Blocks[BalanceBlock] = b

	changes := s.Diff(LayerPersisted, LayerLive, BalanceBlock)
	if len(changes) == 0 {
		t.Fatal("no changes reported for a drained balance")
	}
	for _, c := range changes {
		if c.Offset < 0 || c.Offset >= BlockSize {
			t.Fatalf("change offset %d out of range", c.Offset)
		}
		if s.Persisted().Blocks[BalanceBlock][c.Offset] != c.Old {
			t.Fatalf("offset %d Old = %02X, want %02X", c.Offset, c.Old, s.Persisted().Blocks[BalanceBlock][c.Offset])
		}
		if s.Live().Blocks[BalanceBlock][c.Offset] != c.New {
			t.Fatalf("offset %d New = %02X, want %02X", c.Offset, c.New, s.Live().Blocks[BalanceBlock][c.Offset])
		}
	}
}

func TestDiffSkipsTrailersInvalidAndIdenticalBlocks(t *testing.T) {
	s := loadedStore(t, 5000)

	live := s.Live()
	live.Blocks[7][0] = 0xAA // sector 1 trailer
	live.Valid[7] = true

	if d := s.Diff(LayerPersisted, LayerLive, 7); d != nil {
		t.Fatalf("trailer diff = %v, want nil", d)
	}
	if d := s.Diff(LayerPersisted, LayerLive, 5); d != nil {
		t.Fatalf("diff of invalid block = %v, want nil", d)
	}
	if d := s.Diff(LayerPersisted, LayerLive, BalanceBlock); d != nil {
		t.Fatalf("diff of identical block = %v, want nil", d)
	}
}
