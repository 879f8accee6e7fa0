package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestProgressBar_StepNonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(4, "Replicating")
	p.SetWriter(buf)
	p.width = 8

	p.Step("home")
	p.Step("root")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one line per step, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "[=>      ] 1/4 home" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[1] != "[===>    ] 2/4 root" {
		t.Errorf("second line = %q", lines[1])
	}
	if p.Done() != 2 {
		t.Errorf("Done() = %d, want 2", p.Done())
	}
}

func TestProgressBar_KeepsLabel(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(2, "Deleting")
	p.SetWriter(buf)

	p.Step("")
	if !strings.Contains(buf.String(), "1/2 Deleting") {
		t.Errorf("empty label should keep the previous one, got %q", buf.String())
	}
}

func TestProgressBar_OverLimit(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(1, "x")
	p.SetWriter(buf)

	p.Step("a")
	p.Step("b")
	if p.Done() != 1 {
		t.Errorf("Done() = %d, want 1", p.Done())
	}
	if !strings.Contains(buf.String(), "1/1 b") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestProgressBar_ZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(0, "nothing")
	p.SetWriter(buf)

	p.Step("")
	p.Finish()
	if !strings.Contains(buf.String(), "0/0") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestProgressBar_FinishNonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(1, "x")
	p.SetWriter(buf)

	p.Finish()
	if buf.Len() != 0 {
		t.Errorf("Finish() on non-TTY should write nothing, got %q", buf.String())
	}
}

func TestProgressBar_Concurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(100, "x")
	p.SetWriter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				p.Step("")
			}
		}()
	}
	wg.Wait()

	if p.Done() != 100 {
		t.Errorf("Done() = %d, want 100", p.Done())
	}
}

func TestSpinner_NonTTYPrintsOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Scanning /mnt/snapshots")
	s.SetWriter(buf)

	s.Start()
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if got := buf.String(); got != "Scanning /mnt/snapshots...\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSpinner_MultipleStops(t *testing.T) {
	s := NewSpinner("x")
	s.SetWriter(&bytes.Buffer{})

	s.Stop()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestSpinner_StopWithMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Sending")
	s.SetWriter(buf)

	s.Start()
	s.StopWithMessage("Sent home.2024-01-01.00-00-00")

	if !strings.HasSuffix(buf.String(), "Sent home.2024-01-01.00-00-00\n") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestSpinner_Text(t *testing.T) {
	s := NewSpinner("Sending").ShowElapsed()
	s.started = time.Now().Add(-3 * time.Second)

	if got := s.text(); got != "Sending (3s)" {
		t.Errorf("text() = %q, want %q", got, "Sending (3s)")
	}

	s.UpdateMessage("Receiving")
	s.elapsed = false
	if got := s.text(); got != "Receiving" {
		t.Errorf("text() = %q, want Receiving", got)
	}
}
