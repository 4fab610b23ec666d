package protocol

import "math"

// NextSequence advances a 24-bit snapshot sequence, skipping the unsequenced value 0.
func NextSequence(seq uint32) uint32 {
	next := (seq + 1) & SequenceMask
	if next == 0 {
		next = 1
	}
	return next
}

// SequenceNewer reports whether a was produced after b, allowing for 24-bit wraparound.
// An unsequenced a (0) is always treated as newer.
func SequenceNewer(a, b uint32) bool {
	a &= SequenceMask
	b &= SequenceMask
	if a == 0 || b == 0 {
		return true
	}
	diff := (a - b) & SequenceMask
	return diff != 0 && diff < 1<<23
}

// Validate rejects snapshots carrying NaN or infinite floats.
func (s StateSnapshot) Validate() error {
	for _, v := range []float32{s.PosX, s.PosY, s.VelX, s.VelY, s.Health, s.AttackTime, s.AggressionLevel} {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNonFinite
		}
	}
	return nil
}
