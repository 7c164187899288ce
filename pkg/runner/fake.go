package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeRunner returns canned responses keyed by the command line. It records
// every call. Used by tests of packages that shell out.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	Calls     []Command
}

type fakeResponse struct {
	stdout []byte
	err    error
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: map[string]fakeResponse{}}
}

// On registers the response for a command line. The key is the command name
// followed by its arguments separated by single spaces.
func (f *FakeRunner) On(cmdline string, stdout []byte, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmdline] = fakeResponse{stdout: stdout, err: err}
	return f
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, c Command) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)

	resp, ok := f.responses[c.String()]
	if !ok {
		return nil, fmt.Errorf("fake runner: unexpected command %q (known: %s)", c.String(), strings.Join(f.keys(), ", "))
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &Result{Stdout: resp.stdout}, nil
}

func (f *FakeRunner) keys() []string {
	keys := make([]string, 0, len(f.responses))
	for k := range f.responses {
		keys = append(keys, k)
	}
	return keys
}

var _ Runner = (*FakeRunner)(nil)
