package codec

const (
	checksumBase   = 64548
	checksumFactor = 6597
)

// Checksum computes the protocol's integrity sum over buf:
// Σ(64548 + b*6597) mod 2^32. It detects corruption only; it has no
// cryptographic strength.
func Checksum(buf []byte) uint32 {
	var sum uint32
	for _, b := range buf {
		sum += checksumBase + uint32(b)*checksumFactor
	}
	return sum
}

// VerifyChecksum reports whether the four bytes at buf[n:n+4] hold the
// checksum of buf[:n]. A buffer too short to contain them fails.
func VerifyChecksum(buf []byte, n int) bool {
	if n < 0 || len(buf) < n+4 {
		return false
	}
	return order.Uint32(buf[n:n+4]) == Checksum(buf[:n])
}
