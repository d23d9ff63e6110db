package classic

// Layer names one of the three card image copies held by a Store.
type Layer uint8

const (
	LayerOriginal  Layer = iota // as captured from the source tag/file, immutable
	LayerPersisted              // original plus durable edits; sessions start from this
	LayerLive                   // working copy exposed to the emulation listener
)

func (l Layer) String() string {
	switch l {
	case LayerOriginal:
		return "original"
	case LayerPersisted:
		return "persisted"
	case LayerLive:
		return "live"
	}
	return "unknown"
}

// ByteChange describes one changed byte between two copies of a block.
type ByteChange struct {
	Offset int
	Old    byte
	New    byte
}

// Store owns the three layered copies of the card image. The original
// layer is never written after LoadOriginal; the persisted layer moves
// only through ApplyPersistedEdit and CommitLiveToPersisted; the live
// layer belongs to the emulation session and is reset from persisted
// at every session start.
type Store struct {
	original  Image
	persisted Image
	live      Image
	modified  bool
}

// NewStore returns an empty store with no valid blocks.
func NewStore() *Store {
	return &Store{}
}

// LoadOriginal installs a freshly captured image into all three layers
// and clears the modification flag.
func (s *Store) LoadOriginal(img *Image) {
	s.original = *img
	s.persisted = *img
	s.live = *img
	s.modified = false
}

// Original returns the original layer. Callers must not mutate it.
func (s *Store) Original() *Image { return &s.original }

// Persisted returns the persisted layer.
func (s *Store) Persisted() *Image { return &s.persisted }

// Live returns the live layer.
func (s *Store) Live() *Image { return &s.live }

// Image returns the named layer.
func (s *Store) Image(l Layer) *Image {
	switch l {
	case LayerOriginal:
		return &s.original
	case LayerLive:
		return &s.live
	}
	return &s.persisted
}

// ApplyPersistedEdit writes a block into the persisted layer. The
// modification flag only moves when the bytes actually change, so
// re-applying an identical edit is a no-op.
func (s *Store) ApplyPersistedEdit(idx int, data Block) {
	if idx < 0 || idx >= BlockCount {
		return
	}
	if s.persisted.Valid[idx] && s.persisted.Blocks[idx] == data {
		return
	}
	s.persisted.Blocks[idx] = data
	s.persisted.Valid[idx] = true
	s.modified = true
}

// ResetLiveFromPersisted discards all live divergence. Called at every
// session start.
func (s *Store) ResetLiveFromPersisted() {
	s.live = s.persisted
}

// CommitLiveToPersisted folds live blocks into the persisted layer.
// With no indices every block is committed. Identical bytes do not
// toggle the modification flag.
func (s *Store) CommitLiveToPersisted(indices ...int) {
	if len(indices) == 0 {
		for i := 0; i < BlockCount; i++ {
			s.commitBlock(i)
		}
		return
	}
	for _, i := range indices {
		if i >= 0 && i < BlockCount {
			s.commitBlock(i)
		}
	}
}

func (s *Store) commitBlock(i int) {
	if !s.live.Valid[i] {
		return
	}
	if s.persisted.Valid[i] && s.persisted.Blocks[i] == s.live.Blocks[i] {
		return
	}
	s.persisted.Blocks[i] = s.live.Blocks[i]
	s.persisted.Valid[i] = true
	s.modified = true
}

// Diff lists the changed bytes of block idx between two layers. It
// returns nil for sector trailers, for blocks not valid in both
// layers, and for identical blocks.
func (s *Store) Diff(a, b Layer, idx int) []ByteChange {
	if idx < 0 || idx >= BlockCount || IsTrailer(idx) {
		return nil
	}
	ia, ib := s.Image(a), s.Image(b)
	if !ia.Valid[idx] || !ib.Valid[idx] {
		return nil
	}
	if ia.Blocks[idx] == ib.Blocks[idx] {
		return nil
	}
	var changes []ByteChange
	for i := 0; i < BlockSize; i++ {
		if ia.Blocks[idx][i] != ib.Blocks[idx][i] {
			changes = append(changes, ByteChange{Offset: i, Old: ia.Blocks[idx][i], New: ib.Blocks[idx][i]})
		}
	}
	return changes
}

// HasModifications reports whether the persisted layer has moved since
// LoadOriginal or the last ClearModifications.
func (s *Store) HasModifications() bool { return s.modified }

// ClearModifications resets the flag, typically after the divergence
// has been written to a shadow file.
func (s *Store) ClearModifications() { s.modified = false }

// PersistedBalance decodes the balance from the persisted layer's
// balance block. ok is false when the block is invalid or fails the
// complement check.
func (s *Store) PersistedBalance() (cents uint16, ok bool) {
	if !s.persisted.Valid[BalanceBlock] {
		return 0, false
	}
	return Balance(s.persisted.Blocks[BalanceBlock])
}
