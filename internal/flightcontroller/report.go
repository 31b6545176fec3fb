package flightcontroller

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/skyrelay/internal/command"
)

// Entry records the fate of one issued command.
type Entry struct {
	Stage    string
	Command  command.Command
	Attempts int
	Reply    command.Reply
	Outcome  command.Outcome
	Latency  time.Duration
	Err      error
}

// Retries is the number of resends after the first attempt.
func (e Entry) Retries() int {
	if e.Attempts == 0 {
		return 0
	}
	return e.Attempts - 1
}

// Report summarizes a run.
type Report struct {
	mu      sync.Mutex
	entries []Entry
	stage   string
	err     error
}

func (r *Report) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *Report) finish(stage string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage, r.err = stage, err
}

// Entries returns the issued commands in order.
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Stage returns the final flight stage.
func (r *Report) Stage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Err returns the error the run ended with.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Render writes the report as a table.
func (r *Report) Render(w io.Writer) error {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("STAGE", "COMMAND", "ATTEMPTS", "RETRIES", "REPLY", "OUTCOME", "LATENCY")
	for _, e := range r.Entries() {
		reply := e.Reply.String()
		if reply == "" && e.Err != nil {
			reply = "<" + e.Err.Error() + ">"
		}
		table.AddRow(e.Stage, e.Command.String(), e.Attempts, e.Retries(), reply, e.Outcome.String(), e.Latency.Round(time.Millisecond))
	}

	result := "success"
	if err := r.Err(); err != nil {
		result = err.Error()
	}

	_, err := fmt.Fprintf(w, "%s\n\nFinal stage: %s\nResult: %s\n", table, r.Stage(), result)
	return err
}
