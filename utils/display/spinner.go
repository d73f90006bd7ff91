package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner animates a one-line status while a job runs. It draws nothing
// when the writer is not a terminal.
type Spinner struct {
	out      io.Writer
	chars    []string
	index    int
	message  string
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	disabled bool
}

func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{
		out:      out,
		chars:    []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		disabled: !IsTerminal(out),
	}
}

// Disable prevents the spinner from showing any output
func (s *Spinner) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = true
}

func (s *Spinner) Start(message string) {
	s.mu.Lock()
	if s.disabled || s.running {
		s.mu.Unlock()
		return
	}
	s.message = message
	s.stop = make(chan struct{})
	s.running = true
	stop := s.stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Hide cursor during the animation
		fmt.Fprint(s.out, "\033[?25l")
		defer fmt.Fprint(s.out, "\033[?25h")

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			s.mu.Lock()
			fmt.Fprintf(s.out, "\r%s... %s", s.message, s.chars[s.index])
			s.index = (s.index + 1) % len(s.chars)
			s.mu.Unlock()

			select {
			case <-stop:
				s.mu.Lock()
				fmt.Fprintf(s.out, "\r%s... done     \n", s.message)
				s.mu.Unlock()
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the animation and waits for the last frame
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stop)
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}
