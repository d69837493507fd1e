// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner animates a "thinking" line while a reply is pending. It reuses
// the frame set of the bubbles Dot spinner without a bubbletea program.
type Spinner struct {
	out   io.Writer
	label string
	style spinner.Spinner

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a spinner writing to out.
func NewSpinner(out io.Writer, label string) *Spinner {
	return &Spinner{out: out, label: label, style: spinner.Dot}
}

// Start begins animating. It is a no-op when already running.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.run(s.stop, s.stopped)
}

func (s *Spinner) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.style.FPS)
	defer ticker.Stop()

	frame := 0
	for {
		fmt.Fprintf(s.out, "\r%s %s", PromptStyle.Render(s.style.Frames[frame]), DimStyle.Render(s.label))
		select {
		case <-stop:
			// Clear the line.
			fmt.Fprintf(s.out, "\r\033[K")
			return
		case <-ticker.C:
			frame = (frame + 1) % len(s.style.Frames)
		}
	}
}

// Stop ends the animation and clears the line. Safe to call when not
// running.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, stopped := s.stop, s.stopped
	s.stop, s.stopped = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}
