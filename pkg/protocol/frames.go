package protocol

import (
	"encoding/binary"
	"errors"
)

// ZRTP-2022 frame constants. The frame header is one word: a length
// field (words, frame header included) and a frame info bitfield:
//
//	bits 15..12  batch number
//	bits 11..8   number of the last frame in the batch
//	bit  7       continuation flag (more frames follow)
//	bits 6..0    frame number
const (
	FrameHeaderSize = WordSize

	// Largest message slice per frame, in words. Keeps a full frame
	// within a conservative UDP MTU budget.
	MaxFrameContentWords = 256
)

var (
	ErrFrameTooShort  = errors.New("frame shorter than frame header")
	ErrFrameBadLength = errors.New("frame length field mismatch")
)

// Fragment splits an encoded message into ZRTP frames for the given
// batch number. Messages that fit a single frame still get a frame
// header so the receiver can demultiplex on the batch.
func Fragment(msg []byte, batch uint8) [][]byte {
	msgWords := len(msg) / WordSize
	lastFrame := (msgWords - 1) / MaxFrameContentWords
	if msgWords == 0 {
		lastFrame = 0
	}

	var frames [][]byte
	for num := 0; num*MaxFrameContentWords < msgWords || num == 0; num++ {
		lo := num * MaxFrameContentWords * WordSize
		hi := lo + MaxFrameContentWords*WordSize
		if hi > len(msg) {
			hi = len(msg)
		}
		content := msg[lo:hi]

		frame := make([]byte, FrameHeaderSize+len(content))
		binary.BigEndian.PutUint16(frame[0:2], uint16(len(frame)/WordSize))
		info := uint16(batch&0x0f)<<12 | uint16(lastFrame&0x0f)<<8 | uint16(num)&0x7f
		if num < lastFrame {
			info |= 0x80
		}
		binary.BigEndian.PutUint16(frame[2:4], info)
		copy(frame[FrameHeaderSize:], content)
		frames = append(frames, frame)
	}
	return frames
}

// Assembler reassembles frame batches. Frames of a newer batch discard
// any partially collected one; duplicate frames are absorbed.
type Assembler struct {
	active    bool
	batch     uint8
	lastFrame int
	parts     map[int][]byte
}

// NewAssembler returns an empty frame assembler.
func NewAssembler() *Assembler {
	return &Assembler{parts: make(map[int][]byte)}
}

// Reset drops any partially collected batch.
func (a *Assembler) Reset() {
	a.active = false
	a.parts = make(map[int][]byte)
}

// Add consumes one inbound frame (CRC already stripped). It returns
// the reassembled message once the batch is complete, nil otherwise.
func (a *Assembler) Add(frame []byte) ([]byte, error) {
	if len(frame) < FrameHeaderSize {
		return nil, ErrFrameTooShort
	}
	lenWords := int(binary.BigEndian.Uint16(frame[0:2]))
	if lenWords*WordSize != len(frame) {
		return nil, ErrFrameBadLength
	}
	info := binary.BigEndian.Uint16(frame[2:4])
	batch := uint8(info >> 12)
	last := int(info >> 8 & 0x0f)
	num := int(info & 0x7f)

	if !a.active || batch != a.batch {
		a.Reset()
		a.active = true
		a.batch = batch
	}
	a.lastFrame = last

	if _, dup := a.parts[num]; !dup {
		content := make([]byte, len(frame)-FrameHeaderSize)
		copy(content, frame[FrameHeaderSize:])
		a.parts[num] = content
	}

	if len(a.parts) != a.lastFrame+1 {
		return nil, nil
	}
	var msg []byte
	for i := 0; i <= a.lastFrame; i++ {
		part, ok := a.parts[i]
		if !ok {
			return nil, nil
		}
		msg = append(msg, part...)
	}
	a.Reset()
	return msg, nil
}

// IsFrame reports whether an inbound payload looks like a ZRTP frame
// rather than a bare message: frames start with their length word
// while messages start with the 0x505a preamble.
func IsFrame(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	return binary.BigEndian.Uint16(buf[0:2]) != MessagePreamble
}
