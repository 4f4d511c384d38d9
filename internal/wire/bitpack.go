package wire

// PackBits stores one bool per bit, least significant bit first.
func PackBits(bits []bool) []byte {
	packed := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return packed
}

// UnpackBits is the inverse of PackBits for n bits.
func UnpackBits(packed []byte, n int) []bool {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = packed[i/8]&(1<<(i%8)) != 0
	}
	return bits
}
