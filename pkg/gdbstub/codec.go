package gdbstub

var hexdigit = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

// ParseNibble converts an ASCII hex digit, in either case, to its value.
// The second return value is false if b is not a hex digit.
func ParseNibble(b byte) (uint8, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

// Checksum returns the sum of the bytes of p modulo 256. The same
// function tags outgoing frames and verifies incoming ones.
func Checksum(p []byte) (sum uint8) {
	for _, b := range p {
		sum += b
	}
	return sum
}

// parseHex scans hex digits from the start of p and returns their value
// and how many digits were consumed. Digits past the 16th shift the high
// bits out.
func parseHex(p []byte) (v uint64, n int) {
	for n < len(p) {
		d, ok := ParseNibble(p[n])
		if !ok {
			break
		}
		v = v<<4 | uint64(d)
		n++
	}
	return v, n
}
