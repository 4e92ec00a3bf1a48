// Package crypto provides the ZRTP crypto suite registry and the
// primitives the protocol engine dispatches through it: negotiated
// hashes and HMACs, the ZRTP key derivation function, Diffie-Hellman
// key agreement contexts, the CFB ciphers protecting Confirm
// messages, and SAS rendering.
//
// Algorithms are identified by their 4-character ZRTP names. The
// registry holds one ordered list per category; list order is the
// local preference order and drives negotiation. The mandatory
// algorithms (S256, AES1, HS32, HS80, DH3k, B32) are always
// registered and serve as fallback when an offer has no intersection
// with the local lists.
package crypto
