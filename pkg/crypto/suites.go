package crypto

import (
	"github.com/clearline/go-zrtp/pkg/protocol"
)

// Mandatory-to-implement algorithms, always registered and used as
// fallback when negotiation finds no intersection.
var (
	MandatoryHash         = protocol.Algo("S256")
	MandatoryCipher       = protocol.Algo("AES1")
	MandatoryAuthTag      = protocol.Algo("HS32")
	MandatoryAuthTag2     = protocol.Algo("HS80")
	MandatoryKeyAgreement = protocol.Algo("DH3k")
	MandatorySASType      = protocol.Algo("B32")
)

// KeyAgreementMulti is the pseudo key agreement announcing
// multi-stream capability.
var KeyAgreementMulti = protocol.Algo("Mult")

// AuthTagSuite describes an SRTP authentication tag option. The tag
// itself is applied by the SRTP layer; the core only negotiates it
// and reports it with the key material.
type AuthTagSuite struct {
	ID      protocol.AlgorithmID
	TagBits int
	KeyLen  int
	NonNIST bool
}

// SelectionPolicy controls algorithm selection.
type SelectionPolicy int

const (
	// PolicyStandard picks the first local-preference entry the
	// peer offers too.
	PolicyStandard SelectionPolicy = iota

	// PolicyNonNIST additionally prefers non-NIST ciphers and auth
	// tags when the chosen key agreement is a non-NIST curve.
	PolicyNonNIST
)

// Selection is a negotiated algorithm quintuple.
type Selection struct {
	Hash         protocol.AlgorithmID
	Cipher       protocol.AlgorithmID
	AuthTag      protocol.AlgorithmID
	KeyAgreement protocol.AlgorithmID
	SASType      protocol.AlgorithmID
}

// Registry is the process-wide table of supported algorithms. Lists
// are ordered by local preference. Registries are immutable after
// construction; share one across sessions.
type Registry struct {
	Hashes        []*HashSuite
	Ciphers       []*CipherSuite
	AuthTags      []*AuthTagSuite
	KeyAgreements []*KeyAgreementSuite
	SASTypes      []*SASSuite
}

// Standard returns a registry with every supported algorithm in
// default preference order.
func Standard() *Registry {
	return &Registry{
		Hashes: []*HashSuite{
			{ID: protocol.Algo("S256"), Length: 32, New: newSHA256},
			{ID: protocol.Algo("S384"), Length: 48, New: newSHA384},
		},
		Ciphers: []*CipherSuite{
			{ID: protocol.Algo("AES1"), KeyLen: 16, newBlock: newAES},
			{ID: protocol.Algo("AES2"), KeyLen: 24, newBlock: newAES},
			{ID: protocol.Algo("AES3"), KeyLen: 32, newBlock: newAES},
			{ID: protocol.Algo("2FS1"), KeyLen: 16, NonNIST: true, newBlock: newTwofish},
			{ID: protocol.Algo("2FS2"), KeyLen: 24, NonNIST: true, newBlock: newTwofish},
			{ID: protocol.Algo("2FS3"), KeyLen: 32, NonNIST: true, newBlock: newTwofish},
		},
		AuthTags: []*AuthTagSuite{
			{ID: protocol.Algo("HS32"), TagBits: 32, KeyLen: 20},
			{ID: protocol.Algo("HS80"), TagBits: 80, KeyLen: 20},
			{ID: protocol.Algo("SK32"), TagBits: 32, KeyLen: 32, NonNIST: true},
			{ID: protocol.Algo("SK64"), TagBits: 64, KeyLen: 32, NonNIST: true},
		},
		KeyAgreements: []*KeyAgreementSuite{
			{ID: protocol.Algo("DH3k"), PVLen: 384, New: func() (DHContext, error) { return newFFDH(modp3072, 384) }},
			{ID: protocol.Algo("DH2k"), PVLen: 256, New: func() (DHContext, error) { return newFFDH(modp2048, 256) }},
			{ID: protocol.Algo("E255"), PVLen: 32, NonNIST: true, New: newX25519},
			{ID: protocol.Algo("EC25"), PVLen: 64, New: newP256},
			{ID: protocol.Algo("EC38"), PVLen: 96, New: newP384},
		},
		SASTypes: []*SASSuite{
			{ID: protocol.Algo("B32"), Render: renderB32},
			{ID: protocol.Algo("B256"), Render: renderB256},
			{ID: protocol.Algo("B10D"), Render: renderB10D},
		},
	}
}

// Hash looks up a hash suite, nil when unknown.
func (r *Registry) Hash(id protocol.AlgorithmID) *HashSuite {
	for _, s := range r.Hashes {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Cipher looks up a cipher suite, nil when unknown.
func (r *Registry) Cipher(id protocol.AlgorithmID) *CipherSuite {
	for _, s := range r.Ciphers {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// AuthTag looks up an auth tag suite, nil when unknown.
func (r *Registry) AuthTag(id protocol.AlgorithmID) *AuthTagSuite {
	for _, s := range r.AuthTags {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// KeyAgreement looks up a key agreement suite, nil when unknown.
func (r *Registry) KeyAgreement(id protocol.AlgorithmID) *KeyAgreementSuite {
	for _, s := range r.KeyAgreements {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SASType looks up a SAS rendering suite, nil when unknown.
func (r *Registry) SASType(id protocol.AlgorithmID) *SASSuite {
	for _, s := range r.SASTypes {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func contains(list []protocol.AlgorithmID, id protocol.AlgorithmID) bool {
	for _, a := range list {
		if a == id {
			return true
		}
	}
	return false
}

// pick returns the first entry of local that the peer offers too,
// falling back to the mandatory algorithm on an empty intersection.
// The local list is the canonical ordering: its first common element
// is the strongest acceptable choice.
func pick(local, offered []protocol.AlgorithmID, mandatory protocol.AlgorithmID) protocol.AlgorithmID {
	for _, a := range local {
		if contains(offered, a) {
			return a
		}
	}
	return mandatory
}

// pickNonNIST prefers the first common element flagged non-NIST and
// falls back to the standard pick when there is none.
func pickNonNIST(local, offered []protocol.AlgorithmID, nonNIST func(protocol.AlgorithmID) bool, mandatory protocol.AlgorithmID) protocol.AlgorithmID {
	for _, a := range local {
		if nonNIST(a) && contains(offered, a) {
			return a
		}
	}
	return pick(local, offered, mandatory)
}

// Negotiate selects the algorithm quintuple for a session from the
// local preference lists and the peer's Hello offer.
func (r *Registry) Negotiate(local Selections, offered *protocol.Hello, policy SelectionPolicy) Selection {
	sel := Selection{
		KeyAgreement: pick(local.KeyAgreements, offered.KeyAgreements, MandatoryKeyAgreement),
	}

	ka := r.KeyAgreement(sel.KeyAgreement)
	wantNonNIST := policy == PolicyNonNIST && ka != nil && ka.NonNIST

	sel.Hash = pick(local.Hashes, offered.Hashes, MandatoryHash)
	if wantNonNIST {
		sel.Cipher = pickNonNIST(local.Ciphers, offered.Ciphers, func(id protocol.AlgorithmID) bool {
			s := r.Cipher(id)
			return s != nil && s.NonNIST
		}, MandatoryCipher)
		sel.AuthTag = pickNonNIST(local.AuthTags, offered.AuthTags, func(id protocol.AlgorithmID) bool {
			s := r.AuthTag(id)
			return s != nil && s.NonNIST
		}, MandatoryAuthTag)
	} else {
		sel.Cipher = pick(local.Ciphers, offered.Ciphers, MandatoryCipher)
		sel.AuthTag = pick(local.AuthTags, offered.AuthTags, MandatoryAuthTag)
	}
	sel.SASType = pick(local.SASTypes, offered.SASTypes, MandatorySASType)
	return sel
}

// Selections are the local preference lists offered in Hello.
type Selections struct {
	Hashes        []protocol.AlgorithmID
	Ciphers       []protocol.AlgorithmID
	AuthTags      []protocol.AlgorithmID
	KeyAgreements []protocol.AlgorithmID
	SASTypes      []protocol.AlgorithmID
}

// DefaultSelections returns the default offer: every registered
// algorithm in registry order, multi-stream capability included.
func (r *Registry) DefaultSelections() Selections {
	var s Selections
	for _, h := range r.Hashes {
		s.Hashes = append(s.Hashes, h.ID)
	}
	for _, c := range r.Ciphers {
		s.Ciphers = append(s.Ciphers, c.ID)
	}
	for _, a := range r.AuthTags {
		s.AuthTags = append(s.AuthTags, a.ID)
	}
	for _, k := range r.KeyAgreements {
		s.KeyAgreements = append(s.KeyAgreements, k.ID)
	}
	s.KeyAgreements = append(s.KeyAgreements, KeyAgreementMulti)
	for _, t := range r.SASTypes {
		s.SASTypes = append(s.SASTypes, t.ID)
	}
	return s
}

// MandatorySelections returns the minimal offer: mandatory algorithms
// only.
func MandatorySelections() Selections {
	return Selections{
		Hashes:        []protocol.AlgorithmID{MandatoryHash},
		Ciphers:       []protocol.AlgorithmID{MandatoryCipher},
		AuthTags:      []protocol.AlgorithmID{MandatoryAuthTag, MandatoryAuthTag2},
		KeyAgreements: []protocol.AlgorithmID{MandatoryKeyAgreement, KeyAgreementMulti},
		SASTypes:      []protocol.AlgorithmID{MandatorySASType},
	}
}
