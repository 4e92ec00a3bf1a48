package protocol

import (
	"bytes"
	"testing"
)

func TestFragmentSingleFrame(t *testing.T) {
	msg := NewHelloAck().Encode()
	frames := Fragment(msg, 3)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	a := NewAssembler()
	out, err := a.Add(frames[0])
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Error("reassembled message differs")
	}
}

func TestFragmentMultiFrame(t *testing.T) {
	msg := make([]byte, 3*MaxFrameContentWords*WordSize+8*WordSize)
	fill(msg, 0x42)

	frames := Fragment(msg, 7)
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}

	// Deliver out of order with a duplicate.
	a := NewAssembler()
	order := []int{2, 0, 2, 3, 1}
	var out []byte
	for _, i := range order {
		var err error
		out, err = a.Add(frames[i])
		if err != nil {
			t.Fatalf("Add(frame %d) error = %v", i, err)
		}
	}
	if !bytes.Equal(out, msg) {
		t.Error("reassembled message differs")
	}
}

func TestAssemblerNewBatchDiscardsPartial(t *testing.T) {
	big := make([]byte, 2*MaxFrameContentWords*WordSize)
	fill(big, 0x01)
	old := Fragment(big, 1)

	a := NewAssembler()
	if out, _ := a.Add(old[0]); out != nil {
		t.Fatal("incomplete batch released")
	}

	small := NewHelloAck().Encode()
	frames := Fragment(small, 2)
	out, err := a.Add(frames[0])
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !bytes.Equal(out, small) {
		t.Error("new batch not reassembled after discarding old one")
	}
}

func TestAssemblerRejectsBadFrames(t *testing.T) {
	a := NewAssembler()
	if _, err := a.Add([]byte{0x01}); err == nil {
		t.Error("short frame accepted")
	}
	if _, err := a.Add([]byte{0x00, 0x09, 0x00, 0x00}); err == nil {
		t.Error("length mismatch accepted")
	}
}

func TestIsFrame(t *testing.T) {
	msg := NewHelloAck().Encode()
	if IsFrame(msg) {
		t.Error("bare message classified as frame")
	}
	if !IsFrame(Fragment(msg, 0)[0]) {
		t.Error("frame not recognized")
	}
}
