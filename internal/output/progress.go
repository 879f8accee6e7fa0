package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if the given writer exposes an Fd() method
// (e.g. *os.File) and that fd is a terminal. Falls back to false for
// plain io.Writer values such as *bytes.Buffer.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// ProgressBar tracks a fixed number of steps, such as the directives of a
// backup run or the deletions of a cleanup.
// Example: [==========>         ] 2/4 home
//
// On a terminal the bar is redrawn in place after every step. Elsewhere one
// line is written per step so logs keep a record of what was done.
type ProgressBar struct {
	mu     sync.Mutex
	writer io.Writer
	tty    bool
	total  int
	done   int
	width  int
	label  string
}

// NewProgress creates a progress bar for total steps.
func NewProgress(total int, label string) *ProgressBar {
	p := &ProgressBar{
		total: total,
		width: 30,
		label: label,
	}
	p.SetWriter(os.Stdout)
	return p
}

// SetWriter sets the output writer (useful for testing).
func (p *ProgressBar) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
	p.tty = writerIsTTY(w)
}


// Step marks one more step as done and shows label next to the bar.
func (p *ProgressBar) Step(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done < p.total {
		p.done++
	}
	if label != "" {
		p.label = label
	}
	p.draw()
}

// Done returns how many steps have completed.
func (p *ProgressBar) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Finish ends the bar. On a terminal it moves to a fresh line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprintln(p.writer)
	}
}

// bar returns the bar itself. Must be called with lock held.
func (p *ProgressBar) bar() string {
	filled := 0
	if p.total > 0 {
		filled = p.done * p.width / p.total
	}

	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < p.width; i++ {
		switch {
		case i < filled-1:
			sb.WriteByte('=')
		case i == filled-1:
			sb.WriteByte('>')
		default:
			sb.WriteByte(' ')
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// draw must be called with lock held.
func (p *ProgressBar) draw() {
	line := fmt.Sprintf("%s %d/%d %s", p.bar(), p.done, p.total, p.label)
	if p.tty {
		fmt.Fprintf(p.writer, "\r\033[K%s", line)
		return
	}
	fmt.Fprintln(p.writer, line)
}

// Spinner shows that a step without a known length is running, such as a
// location scan or a single btrfs transfer.
// Example: |  Sending home.2024-01-01.00-00-00 (12s)
type Spinner struct {
	mu      sync.Mutex
	writer  io.Writer
	message string
	elapsed bool
	frames  string
	running bool
	started time.Time
	stop    chan struct{}
	exited  chan struct{}
}

// NewSpinner creates a spinner. Call Start to show it.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		writer:  os.Stdout,
		message: message,
		frames:  `|/-\`,
	}
}

// ShowElapsed appends the running time to the message. Call before Start.
func (s *Spinner) ShowElapsed() *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = true
	return s
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start shows the spinner. On a non-TTY writer the message is printed once
// and nothing is animated.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.started = time.Now()

	if !writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "%s...\n", s.message)
		return
	}

	s.stop = make(chan struct{})
	s.exited = make(chan struct{})
	go s.animate(s.stop, s.exited)
}

func (s *Spinner) animate(stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ticker.C:
			s.mu.Lock()
			frame := s.frames[i%len(s.frames)]
			fmt.Fprintf(s.writer, "\r%c  %s", frame, s.text())
			s.mu.Unlock()
		case <-stop:
			return
		}
	}
}

// text must be called with lock held.
func (s *Spinner) text() string {
	if !s.elapsed {
		return s.message
	}
	return fmt.Sprintf("%s (%ds)", s.message, int(time.Since(s.started).Seconds()))
}

// UpdateMessage changes the message while the spinner runs.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Stop hides the spinner. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, exited := s.stop, s.exited
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-exited

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.writer, "\r\033[K")
}

// StopWithMessage stops the spinner and prints a final line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, message)
}
