// Package storage holds the ZID cache: the persistent map of peer ZID
// to retained-secret record that gives ZRTP its key continuity across
// calls. Two backends are provided, a SQLite database and an
// in-memory map; embedders with their own persistence implement the
// Cache interface.
package storage

import (
	"errors"
	"time"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrLocalZID  = errors.New("refusing record for the local ZID")
	ErrCacheOpen = errors.New("cache not open")
)

// Record flags
const (
	FlagValid       uint32 = 0x01
	FlagSASVerified uint32 = 0x02
	FlagRS1Valid    uint32 = 0x04
	FlagRS2Valid    uint32 = 0x08
	FlagMITMKey     uint32 = 0x10
)

// RSLength is the size of a retained secret and of the MitM key.
const RSLength = 32

// TTLIndefinite marks a retained secret that never expires.
const TTLIndefinite uint32 = 0xffffffff

// Cache is the retained-secret store contract the protocol engine
// consumes. Implementations must serialize concurrent writers and
// persist each SaveRecord atomically.
type Cache interface {
	// Open prepares the backend and returns the local ZID, creating
	// one on first use. Idempotent.
	Open(name string) (protocol.ZID, error)

	// Record returns the record for a peer, allocating a fresh
	// Valid-flagged one with SecureSince set when none exists. It
	// refuses to return a record for the local ZID.
	Record(peer protocol.ZID) (*Record, error)

	// SaveRecord persists a mutated record.
	SaveRecord(rec *Record) error

	// PeerName returns the display label stored for a peer.
	PeerName(peer protocol.ZID) (string, bool)

	// PutPeerName stores a display label for a peer.
	PutPeerName(peer protocol.ZID, name string) error

	// All enumerates every valid record, for management UIs.
	All() ([]*Record, error)

	Close() error
}

// RetainedSecret is one RS slot of a record.
type RetainedSecret struct {
	Secret   [RSLength]byte
	LastUsed int64  // epoch seconds
	TTL      uint32 // seconds, TTLIndefinite for no expiry
}

// Expired reports whether the secret's TTL has run out at time now.
func (rs *RetainedSecret) Expired(now int64) bool {
	if rs.TTL == TTLIndefinite {
		return false
	}
	return rs.LastUsed+int64(rs.TTL) < now
}

// Record is one peer entry of the ZID cache.
type Record struct {
	ZID   protocol.ZID
	Flags uint32

	RS1 RetainedSecret
	RS2 RetainedSecret

	MITMKey         [RSLength]byte
	MITMKeyLastUsed int64

	SecureSince int64
	Name        string
}

// NewRecord allocates a fresh valid record for a peer.
func NewRecord(peer protocol.ZID) *Record {
	return &Record{
		ZID:         peer,
		Flags:       FlagValid,
		SecureSince: time.Now().Unix(),
	}
}

func (r *Record) IsValid() bool       { return r.Flags&FlagValid != 0 }
func (r *Record) IsSASVerified() bool { return r.Flags&FlagSASVerified != 0 }
func (r *Record) IsRS1Valid() bool    { return r.Flags&FlagRS1Valid != 0 }
func (r *Record) IsRS2Valid() bool    { return r.Flags&FlagRS2Valid != 0 }
func (r *Record) HasMITMKey() bool    { return r.Flags&FlagMITMKey != 0 }

// SetSASVerified sets or clears the sticky SAS-verified bit.
func (r *Record) SetSASVerified(verified bool) {
	if verified {
		r.Flags |= FlagSASVerified
	} else {
		r.Flags &^= FlagSASVerified
	}
}

// SetMITMKey stores the trusted MitM key, written only on enrollment
// acceptance.
func (r *Record) SetMITMKey(key []byte) {
	copy(r.MITMKey[:], key)
	r.MITMKeyLastUsed = time.Now().Unix()
	r.Flags |= FlagMITMKey
}

// ShiftRS1 rotates RS1 into RS2 and installs a freshly derived secret
// as RS1 with the given TTL.
func (r *Record) ShiftRS1(newRS1 []byte, ttl uint32) {
	if r.IsRS1Valid() {
		r.RS2 = r.RS1
		r.Flags |= FlagRS2Valid
	}
	copy(r.RS1.Secret[:], newRS1)
	r.RS1.LastUsed = time.Now().Unix()
	r.RS1.TTL = ttl
	r.Flags |= FlagRS1Valid
}

// Wipe scrubs the secret material of the record copy.
func (r *Record) Wipe() {
	for i := range r.RS1.Secret {
		r.RS1.Secret[i] = 0
	}
	for i := range r.RS2.Secret {
		r.RS2.Secret[i] = 0
	}
	for i := range r.MITMKey {
		r.MITMKey[i] = 0
	}
}

// clone returns a deep copy, keeping callers from retaining pointers
// into backend state.
func (r *Record) clone() *Record {
	c := *r
	return &c
}
