package grid

// Decode turns one encoded grid cell into its zero-based feature index.
// Encoders skip the code points for '"' (34) and '\' (92), so both shifts
// are undone here. The thresholds and their order must not change: tiles
// produced by other encoders depend on them.
func Decode(c rune) int {
	if c >= 93 {
		c--
	}
	if c >= 35 {
		c--
	}
	return int(c) - 32
}

// Encode is the inverse of Decode.
func Encode(v int) rune {
	c := rune(v + 32)
	if c >= 34 {
		c++
	}
	if c >= 92 {
		c++
	}
	return c
}
