package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/1003xuexue/mobile-ai-bench/internal/command"
)

// FakeResponse scripts the outcome of one external command invocation.
// Match is a substring of the full command line ("name arg arg ...").
// Times limits how often the entry fires; zero means unlimited.
type FakeResponse struct {
	Match  string
	Result command.Result
	Err    error
	Times  int

	hits int
}

// FakeRunner is a scripted command.Runner for tests. Invocations are matched
// against Responses in order, skipping exhausted entries, and recorded in
// Calls for assertions.
type FakeRunner struct {
	mu        sync.Mutex
	Responses []FakeResponse
	Calls     []string
}

// Script appends a response to the runner's script.
func (f *FakeRunner) Script(r FakeResponse) *FakeRunner {
	f.Responses = append(f.Responses, r)
	return f
}

// Run records the invocation and replays the first live matching response.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (command.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	line := commandLine(name, args)
	f.Calls = append(f.Calls, line)

	if r := f.match(line); r != nil {
		return r.Result, r.Err
	}
	return command.Result{}, nil
}

// Stream behaves like Run but writes the scripted stdout to out.
func (f *FakeRunner) Stream(ctx context.Context, out io.Writer, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line := commandLine(name, args)
	f.Calls = append(f.Calls, line)

	if r := f.match(line); r != nil {
		if r.Result.Stdout != "" {
			io.WriteString(out, r.Result.Stdout)
		}
		return r.Err
	}
	return nil
}

func (f *FakeRunner) match(line string) *FakeResponse {
	for i := range f.Responses {
		r := &f.Responses[i]
		if r.Times > 0 && r.hits >= r.Times {
			continue
		}
		if strings.Contains(line, r.Match) {
			r.hits++
			return r
		}
	}
	return nil
}

// CallsMatching returns the recorded command lines containing substr.
func (f *FakeRunner) CallsMatching(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range f.Calls {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// CountMatching returns how many recorded command lines contain substr.
func (f *FakeRunner) CountMatching(substr string) int {
	return len(f.CallsMatching(substr))
}

func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
