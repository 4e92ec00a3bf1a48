// Package protocol implements the ZRTP wire format (RFC 6189) together
// with the ZRTP-2022 frame extension.
//
// # Message layout
//
// Every ZRTP message is a sequence of 4-byte words. A message starts
// with a 12-byte header:
//   - Preamble (2 bytes): 0x505a
//   - Length (2 bytes): total message length in words, CRC excluded
//   - Type (8 bytes): ASCII message tag, space padded ("Hello   ")
//
// The body layout depends on the message type. Variable-length parts
// (algorithm lists, public key values, signature blocks) are always
// padded to a word boundary. Messages travel with a trailing CRC-32
// computed over the entire encoded message; AppendCRC adds it on
// output and CheckCRC verifies and strips it on input.
//
// # Messages
//
// Handshake: Hello, HelloACK, Commit, DHPart1, DHPart2, Confirm1,
// Confirm2, Conf2ACK. Errors: Error, ErrorACK. Liveness: Ping,
// PingACK. Side protocols: GoClear, ClearACK, SASrelay, RelayACK.
//
// Each message type is a struct with an Encode method producing the
// header+body bytes (the unit that HMACs and transcript hashes cover)
// and a package-level Decode dispatcher that parses inbound bytes into
// the matching struct.
//
// # Frames
//
// When both endpoints support ZRTP-2022 frames, a large message may be
// split into several frames identified by a batch number and a frame
// index. The Assembler collects frames and releases the reassembled
// message once the batch is complete; a newer batch discards any
// partial one.
package protocol
