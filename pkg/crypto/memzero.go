package crypto

// Memzero overwrites b with zeros. Used to scrub key material as soon
// as it is no longer needed.
func Memzero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// MemzeroAll scrubs several buffers in one call.
func MemzeroAll(bufs ...[]byte) {
	for _, b := range bufs {
		Memzero(b)
	}
}
