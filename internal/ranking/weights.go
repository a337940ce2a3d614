package ranking

// Array returns the tiers in ts_rank order {D, C, B, A}.
func (f FieldWeights) Array() [4]float64 {
	return [4]float64{f.D, f.C, f.B, f.A}
}

// Slice returns the tiers in ts_rank order for binding as a float4[] parameter.
func (f FieldWeights) Slice() []float64 {
	a := f.Array()
	return a[:]
}

// NormalizeRank maps an unbounded cover-density sum into [0, 1) the way
// ts_rank_cd normalization flag 32 does: rank / (rank + 1).
// Negative input is treated as 0.
func NormalizeRank(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + 1)
}
