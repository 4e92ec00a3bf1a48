package protocol

import (
	"bytes"
	"testing"
)

func testZID(b byte) ZID {
	var z ZID
	for i := range z {
		z[i] = b + byte(i)
	}
	return z
}

func fill(buf []byte, seed byte) {
	for i := range buf {
		buf[i] = seed + byte(i)
	}
}

func TestHelloEncodeDecode(t *testing.T) {
	h := &Hello{
		Flags: FlagMitm | FlagSASSign,
		ZID:   testZID(0x01),
		Hashes: []AlgorithmID{Algo("S256"), Algo("S384")},
		Ciphers: []AlgorithmID{Algo("AES1"), Algo("2FS1")},
		AuthTags: []AlgorithmID{Algo("HS32"), Algo("HS80")},
		KeyAgreements: []AlgorithmID{Algo("DH3k"), Algo("E255"), Algo("Mult")},
		SASTypes: []AlgorithmID{Algo("B32"), Algo("B256")},
	}
	copy(h.Version[:], Version)
	h.SetClientID("go-zrtp test")
	fill(h.H3[:], 0x30)
	fill(h.HMAC[:], 0x99)

	encoded := h.Encode()
	if len(encoded)%WordSize != 0 {
		t.Fatalf("encoded length %d not word aligned", len(encoded))
	}

	decoded, err := DecodeHello(encoded)
	if err != nil {
		t.Fatalf("DecodeHello() error = %v", err)
	}
	if decoded.ZID != h.ZID {
		t.Errorf("ZID = %x, want %x", decoded.ZID, h.ZID)
	}
	if decoded.H3 != h.H3 {
		t.Error("H3 mismatch")
	}
	if !decoded.IsMitm() || !decoded.IsSASSign() || decoded.IsPassive() {
		t.Errorf("flags = %02x, want M|S", decoded.Flags)
	}
	if len(decoded.KeyAgreements) != 3 || decoded.KeyAgreements[1] != Algo("E255") {
		t.Errorf("key agreements = %v", decoded.KeyAgreements)
	}
	if !bytes.Equal(decoded.Encode(), encoded) {
		t.Error("re-encode differs from original bytes")
	}
}

func TestCommitEncodeDecode(t *testing.T) {
	tests := []struct {
		name     string
		commit   *Commit
		lenWords int
	}{
		{
			name: "dh mode",
			commit: &Commit{
				ZID:          testZID(0x20),
				Hash:         Algo("S256"),
				Cipher:       Algo("AES1"),
				AuthTag:      Algo("HS32"),
				KeyAgreement: Algo("DH3k"),
				SASType:      Algo("B32"),
			},
			lenWords: 29,
		},
		{
			name: "multi-stream",
			commit: &Commit{
				ZID:          testZID(0x21),
				Hash:         Algo("S256"),
				Cipher:       Algo("AES1"),
				AuthTag:      Algo("HS32"),
				KeyAgreement: Algo("Mult"),
				SASType:      Algo("B32"),
			},
			lenWords: 25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill(tt.commit.H2[:], 0x40)
			fill(tt.commit.HVI[:], 0x50)
			fill(tt.commit.Nonce[:], 0x60)

			encoded := tt.commit.Encode()
			if len(encoded) != tt.lenWords*WordSize {
				t.Fatalf("encoded %d bytes, want %d words", len(encoded), tt.lenWords)
			}
			decoded, err := DecodeCommit(encoded)
			if err != nil {
				t.Fatalf("DecodeCommit() error = %v", err)
			}
			if decoded.KeyAgreement != tt.commit.KeyAgreement {
				t.Errorf("key agreement = %s", decoded.KeyAgreement)
			}
			if decoded.IsMultiStream() {
				if decoded.Nonce != tt.commit.Nonce {
					t.Error("nonce mismatch")
				}
			} else if decoded.HVI != tt.commit.HVI {
				t.Error("hvi mismatch")
			}
			if !bytes.Equal(decoded.Encode(), encoded) {
				t.Error("re-encode differs from original bytes")
			}
		})
	}
}

func TestDHPartEncodeDecode(t *testing.T) {
	for _, part := range []int{1, 2} {
		d := &DHPart{Part: part, PV: make([]byte, 384)} // DH3k
		fill(d.H1[:], 0x11)
		fill(d.RS1ID[:], 0x21)
		fill(d.RS2ID[:], 0x31)
		fill(d.AuxSecretID[:], 0x41)
		fill(d.PBXSecretID[:], 0x51)
		fill(d.PV, 0x61)
		fill(d.HMAC[:], 0x71)

		encoded := d.Encode()
		if len(encoded) != (21+96)*WordSize {
			t.Fatalf("part %d: encoded %d bytes", part, len(encoded))
		}
		decoded, err := DecodeDHPart(encoded)
		if err != nil {
			t.Fatalf("DecodeDHPart() error = %v", err)
		}
		if decoded.Part != part {
			t.Errorf("part = %d, want %d", decoded.Part, part)
		}
		if !bytes.Equal(decoded.PV, d.PV) {
			t.Error("pv mismatch")
		}
		if decoded.RS1ID != d.RS1ID || decoded.PBXSecretID != d.PBXSecretID {
			t.Error("secret id mismatch")
		}
		if !bytes.Equal(decoded.Encode(), encoded) {
			t.Error("re-encode differs from original bytes")
		}
	}
}

func TestConfirmInnerRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		sig  *SignatureBlock
	}{
		{name: "no signature"},
		{name: "with signature", sig: &SignatureBlock{Type: Algo("PGP"), Data: bytes.Repeat([]byte{0xAB}, 64)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Confirm{Part: 1, Flags: ConfirmFlagSASVerified | ConfirmFlagAllowClear, Expiry: 0xffffffff, Signature: tt.sig}
			fill(c.H0[:], 0x05)
			fill(c.IV[:], 0x15)
			fill(c.HMAC[:], 0x25)

			encoded := c.Encode()
			decoded, err := DecodeConfirm(encoded)
			if err != nil {
				t.Fatalf("DecodeConfirm() error = %v", err)
			}
			if decoded.HMAC != c.HMAC || decoded.IV != c.IV {
				t.Error("outer field mismatch")
			}
			if err := decoded.ParseInner(decoded.Encrypted); err != nil {
				t.Fatalf("ParseInner() error = %v", err)
			}
			if decoded.H0 != c.H0 {
				t.Error("H0 mismatch")
			}
			if decoded.Flags != c.Flags {
				t.Errorf("flags = %02x, want %02x", decoded.Flags, c.Flags)
			}
			if decoded.Expiry != c.Expiry {
				t.Errorf("expiry = %d", decoded.Expiry)
			}
			if tt.sig == nil && decoded.Signature != nil {
				t.Error("unexpected signature")
			}
			if tt.sig != nil {
				if decoded.Signature == nil {
					t.Fatal("signature lost")
				}
				if !bytes.Equal(decoded.Signature.Data, tt.sig.Data) {
					t.Error("signature data mismatch")
				}
			}
			if !bytes.Equal(decoded.Encode(), encoded) {
				t.Error("re-encode differs from original bytes")
			}
		})
	}
}

func TestConfirmSignatureNinthBit(t *testing.T) {
	// A 1024-byte signature needs 257 words, exercising the 9th
	// length bit stored in the filler byte.
	c := &Confirm{Part: 2, Signature: &SignatureBlock{Type: Algo("X509"), Data: make([]byte, 1024)}}
	inner, err := c.EncodeInner()
	if err != nil {
		t.Fatalf("EncodeInner() error = %v", err)
	}
	if inner[HashImageSize+1] != 0x01 {
		t.Errorf("filler byte = %02x, want 9th length bit set", inner[HashImageSize+1])
	}

	parsed := &Confirm{}
	if err := parsed.ParseInner(inner); err != nil {
		t.Fatalf("ParseInner() error = %v", err)
	}
	if parsed.Signature == nil || len(parsed.Signature.Data) != 1024 {
		t.Fatal("long signature not recovered")
	}
}

func TestControlMessages(t *testing.T) {
	for _, msg := range []Message{NewHelloAck(), NewConf2Ack(), NewErrorAck(), NewClearAck(), NewRelayAck()} {
		encoded := msg.Encode()
		if len(encoded) != HeaderSize {
			t.Errorf("%s: length %d, want %d", msg.Type(), len(encoded), HeaderSize)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("%s: Decode() error = %v", msg.Type(), err)
		}
		if decoded.Type() != msg.Type() {
			t.Errorf("type = %q, want %q", decoded.Type(), msg.Type())
		}
	}
}

func TestErrorEncodeDecode(t *testing.T) {
	e := &Error{Code: DHErrorWrongPV}
	decoded, err := DecodeError(e.Encode())
	if err != nil {
		t.Fatalf("DecodeError() error = %v", err)
	}
	if decoded.Code != DHErrorWrongPV {
		t.Errorf("code = %#x, want %#x", decoded.Code, DHErrorWrongPV)
	}
}

func TestPingPingAck(t *testing.T) {
	p := &Ping{}
	copy(p.Version[:], Version)
	fill(p.EndpointHash[:], 0x77)
	dp, err := DecodePing(p.Encode())
	if err != nil {
		t.Fatalf("DecodePing() error = %v", err)
	}
	if dp.EndpointHash != p.EndpointHash {
		t.Error("endpoint hash mismatch")
	}

	pa := &PingAck{SSRC: 0xdeadbeef}
	copy(pa.Version[:], Version)
	fill(pa.SenderHash[:], 0x88)
	pa.ReceivedHash = p.EndpointHash
	dpa, err := DecodePingAck(pa.Encode())
	if err != nil {
		t.Fatalf("DecodePingAck() error = %v", err)
	}
	if dpa.SSRC != pa.SSRC || dpa.ReceivedHash != p.EndpointHash {
		t.Error("ping ack field mismatch")
	}
}

func TestSASRelayRoundTrip(t *testing.T) {
	s := &SASRelay{Flags: ConfirmFlagSASVerified, Scheme: Algo("B32")}
	fill(s.SASHash[:], 0x3a)
	fill(s.IV[:], 0x4a)
	fill(s.HMAC[:], 0x5a)

	encoded := s.Encode()
	decoded, err := DecodeSASRelay(encoded)
	if err != nil {
		t.Fatalf("DecodeSASRelay() error = %v", err)
	}
	if err := decoded.ParseInner(decoded.Encrypted); err != nil {
		t.Fatalf("ParseInner() error = %v", err)
	}
	if decoded.Scheme != s.Scheme || decoded.SASHash != s.SASHash {
		t.Error("relay field mismatch")
	}
	if !bytes.Equal(decoded.Encode(), encoded) {
		t.Error("re-encode differs from original bytes")
	}
}

func TestCRCRoundTrip(t *testing.T) {
	msg := NewHelloAck().Encode()
	wire := AppendCRC(msg)
	if len(wire) != len(msg)+CRCSize {
		t.Fatalf("wire length = %d", len(wire))
	}
	back, err := CheckCRC(wire)
	if err != nil {
		t.Fatalf("CheckCRC() error = %v", err)
	}
	if !bytes.Equal(back, msg) {
		t.Error("CheckCRC stripped wrong bytes")
	}

	wire[4] ^= 0x01
	if _, err := CheckCRC(wire); err == nil {
		t.Error("CheckCRC accepted corrupted packet")
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"short", []byte{0x50, 0x5a, 0x00}},
		{"bad preamble", append([]byte{0x00, 0x00, 0x00, 0x03}, []byte(TypeHelloAck)...)},
		{"bad length", append([]byte{0x50, 0x5a, 0x00, 0xff}, []byte(TypeHelloAck)...)},
		{"unknown type", append([]byte{0x50, 0x5a, 0x00, 0x03}, []byte("Bogus   ")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.buf); err == nil {
				t.Error("Decode() accepted malformed input")
			}
		})
	}
}
