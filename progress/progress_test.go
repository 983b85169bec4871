package progress

import (
	"testing"
	"time"
)

func TestStreamDeliversInOrder(t *testing.T) {
	s := NewStream()
	s.Step("parsing", "Parsing response")
	s.Info("3 files found")
	s.Close()

	var types []string
	for ev := range s.Events() {
		types = append(types, ev.Type)
		if ev.Timestamp.IsZero() {
			t.Fatal("timestamp not stamped")
		}
	}
	if len(types) != 2 || types[0] != TypeStep || types[1] != TypeInfo {
		t.Fatalf("types = %v", types)
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Close() // must not panic
	if _, ok := <-s.Events(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Info("too late") // must not panic or block
}

func TestEmitNeverBlocksOnFullBuffer(t *testing.T) {
	s := NewStream()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultBuffer+50; i++ {
			s.Info("event")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on full buffer")
	}
	s.Close()
}

func TestNilStreamIsSafe(t *testing.T) {
	var s *Stream
	s.Info("into the void")
	s.Step("x", "y")
	s.Close()
	if s.Events() != nil {
		t.Fatal("nil stream should expose nil channel")
	}
}

func TestTapSeesDeliveredEvents(t *testing.T) {
	var tapped []Event
	s := NewStream().WithTap(func(ev Event) { tapped = append(tapped, ev) })
	s.FileProgress("src/App.jsx", 1, 3)
	s.FileComplete("src/App.jsx")
	s.Close()

	if len(tapped) != 2 {
		t.Fatalf("tapped %d events", len(tapped))
	}
	if tapped[0].FileName != "src/App.jsx" || tapped[0].Current != 1 || tapped[0].Total != 3 {
		t.Fatalf("tapped[0] = %+v", tapped[0])
	}
}
