package zrtp

import (
	"errors"

	"github.com/clearline/go-zrtp/pkg/crypto"
	"github.com/clearline/go-zrtp/pkg/storage"
)

var (
	ErrNoCallback = errors.New("config needs a callback")
	ErrNoCache    = errors.New("config needs a ZID cache")
)

// Config carries the per-endpoint session options.
type Config struct {
	// ClientID goes into the Hello message, 16 characters max.
	ClientID string

	// Registry is the algorithm table; nil selects the standard one.
	Registry *crypto.Registry

	// Selections are the offered algorithm lists in preference
	// order; empty lists fall back to the registry defaults.
	Selections crypto.Selections

	// MandatoryOnly restricts the offer to the mandatory algorithms.
	MandatoryOnly bool

	// Policy selects the algorithm selection policy.
	Policy crypto.SelectionPolicy

	// Cache is the retained-secret store, shared between sessions.
	Cache storage.Cache

	// MitmMode announces this endpoint as a trusted MitM (PBX) and
	// lets it send SASrelay packets once enrolled peers connect.
	MitmMode bool

	// EnableMitmEnrollment accepts enrollment offers from a PBX.
	EnableMitmEnrollment bool

	// SASSignSupport announces and processes SAS signatures.
	SASSignSupport bool

	// ParanoidMode treats every session as unverified: the cached
	// SAS-verified flag is ignored and relayed SAS values are
	// acknowledged but never displayed.
	ParanoidMode bool

	// EnableClear permits the GoClear side protocol.
	EnableClear bool

	// Passive marks this endpoint as one that never sends Commit; it
	// always ends up in the responder role.
	Passive bool

	// Disclosure sets the disclosure flag in Hello and Confirm.
	Disclosure bool

	// UseZrtpFrames enables the ZRTP-2022 frame layer for outbound
	// messages. Inbound frames are always understood.
	UseZrtpFrames bool

	// ExpireTime is the cache TTL in seconds the Confirm messages
	// announce; 0 means indefinite.
	ExpireTime uint32
}

// DefaultConfig returns a config with the standard registry and the
// given cache; the caller still has to open the cache.
func DefaultConfig(cache storage.Cache) Config {
	return Config{
		ClientID: "go-zrtp 1.0",
		Registry: crypto.Standard(),
		Cache:    cache,
	}
}

func (c *Config) validate() error {
	if c.Cache == nil {
		return ErrNoCache
	}
	if c.Registry == nil {
		c.Registry = crypto.Standard()
	}
	if c.MandatoryOnly {
		c.Selections = crypto.MandatorySelections()
	}
	empty := len(c.Selections.Hashes) == 0 && len(c.Selections.Ciphers) == 0 &&
		len(c.Selections.AuthTags) == 0 && len(c.Selections.KeyAgreements) == 0 &&
		len(c.Selections.SASTypes) == 0
	if empty {
		c.Selections = c.Registry.DefaultSelections()
	}
	return nil
}
