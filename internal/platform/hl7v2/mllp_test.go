package hl7v2

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFrameUnframeRoundTrip(t *testing.T) {
	msg := []byte(sampleRDE)
	framed := FrameMessage(msg)

	if framed[0] != MLLPStartBlock {
		t.Errorf("frame start = %x", framed[0])
	}
	if framed[len(framed)-2] != MLLPEndBlock || framed[len(framed)-1] != MLLPCarriageReturn {
		t.Errorf("frame end = %x %x", framed[len(framed)-2], framed[len(framed)-1])
	}

	got, rest, found := UnframeMessage(framed)
	if !found {
		t.Fatal("frame not found")
	}
	if !bytes.Equal(got, msg) {
		t.Error("unframed message differs from original")
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestUnframePartial(t *testing.T) {
	framed := FrameMessage([]byte(sampleRDE))
	if _, _, found := UnframeMessage(framed[:len(framed)-1]); found {
		t.Error("partial frame should not be found")
	}
}

func TestUnframeMultiple(t *testing.T) {
	data := append(FrameMessage([]byte("MSH|one")), FrameMessage([]byte("MSH|two"))...)

	first, rest, found := UnframeMessage(data)
	if !found || string(first) != "MSH|one" {
		t.Fatalf("first = %q, found = %v", first, found)
	}
	second, rest, found := UnframeMessage(rest)
	if !found || string(second) != "MSH|two" {
		t.Fatalf("second = %q, found = %v", second, found)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes", len(rest))
	}
}

func TestMLLPServerAcksMessage(t *testing.T) {
	builder := NewBuilder()
	received := make(chan []byte, 1)

	srv := NewMLLPServer("127.0.0.1:0", func(raw []byte) []byte {
		received <- raw
		msg, err := Parse(raw)
		if err != nil {
			return builder.BuildACK("", AckForError(err), err.Error())
		}
		return builder.BuildACK(msg.ControlID, AckAccept, "")
	}, zerolog.Nop())

	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(FrameMessage([]byte(sampleRDE))); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case raw := <-received:
		if !bytes.Equal(raw, []byte(sampleRDE)) {
			t.Error("handler received altered message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	ackRaw, _, found := UnframeMessage(buf[:n])
	if !found {
		t.Fatal("ack not MLLP framed")
	}
	ack, err := Parse(ackRaw)
	if err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if got := ack.GetSegment("MSA").GetField(1); got != AckAccept {
		t.Errorf("MSA-1 = %q, want AA", got)
	}
}
