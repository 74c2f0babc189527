package ui

import (
	"encoding/json"
	"io"
	"sync"
)

// Presenter consumes commands. Implementations must be safe for concurrent
// use because timers fire on their own goroutines.
type Presenter interface {
	Apply(cmds ...Command)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(cmds ...Command)

func (f PresenterFunc) Apply(cmds ...Command) { f(cmds...) }

// Discard drops every command.
var Discard Presenter = PresenterFunc(func(...Command) {})

// Recorder keeps every command it receives, in order.
type Recorder struct {
	mu   sync.Mutex
	cmds []Command
}

func (r *Recorder) Apply(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmds...)
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.cmds))
	copy(out, r.cmds)
	return out
}

// Of returns the recorded commands of the given kind.
func (r *Recorder) Of(kind Kind) []Command {
	var out []Command
	for _, c := range r.Commands() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = r.cmds[:0]
}

// JSONLines writes each command as one JSON object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines returns a presenter writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (j *JSONLines) Apply(cmds ...Command) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cmds {
		j.enc.Encode(c)
	}
}
