package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

// SASSuite binds a SAS rendering scheme to its renderer. The renderer
// receives the 4-byte sasValue (leftmost 32 bits of the SAS hash).
type SASSuite struct {
	ID     protocol.AlgorithmID
	Render func(sasValue [4]byte) string
}

// zb32 is the base32 alphabet ZRTP uses for B32 rendering.
const zb32 = "ybndrfg8ejkmcpqxot1uwisza345h769"

// renderB32 maps the leftmost 20 bits onto four base32 characters.
func renderB32(v [4]byte) string {
	idx := [4]byte{
		v[0] >> 3,
		(v[0]&0x07)<<2 | v[1]>>6,
		v[1] >> 1 & 0x1f,
		(v[1]&0x01)<<4 | v[2]>>4,
	}
	return string([]byte{zb32[idx[0]], zb32[idx[1]], zb32[idx[2]], zb32[idx[3]]})
}

// renderB256 maps the two leftmost bytes onto a PGP word pair, even
// list first.
func renderB256(v [4]byte) string {
	return pgpWordsEven[v[0]] + ":" + pgpWordsOdd[v[1]]
}

// renderB10D renders six decimal digits for locales where base32
// characters are awkward to read aloud.
func renderB10D(v [4]byte) string {
	return fmt.Sprintf("%06d", binary.BigEndian.Uint32(v[:])%1000000)
}
