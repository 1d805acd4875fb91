package host

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

// WriteOp records one WriteFile call against a FakeRunner.
type WriteOp struct {
	Path string
	Data []byte
}

type cmdFixture struct {
	res   Result
	err   error
	delay time.Duration
}

// FakeRunner is a deterministic Runner for tests and simulation mode.
// Commands are served from fixtures keyed by name plus arguments, files
// from an in-memory map. Every call is recorded. All methods are safe
// for concurrent use.
type FakeRunner struct {
	mu sync.Mutex

	sticky map[string]cmdFixture   // last fixture set for a key, repeats forever
	queued map[string][]cmdFixture // one-shot fixtures consumed before sticky

	files    map[string][]byte
	fileErrs map[string]error
	globs    map[string][]string

	calls  []Cmd
	reads  []string
	writes []WriteOp
}

// NewFakeRunner returns an empty FakeRunner. Unknown commands fail with
// KindNotAvailable, mirroring a missing binary on the real host.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		sticky:   make(map[string]cmdFixture),
		queued:   make(map[string][]cmdFixture),
		files:    make(map[string][]byte),
		fileErrs: make(map[string]error),
		globs:    make(map[string][]string),
	}
}

func cmdKey(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// SetCommand installs a sticky fixture: every matching Run returns res
// and err until replaced.
func (f *FakeRunner) SetCommand(res Result, err error, name string, args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sticky[cmdKey(name, args)] = cmdFixture{res: res, err: err}
}

// QueueCommand installs a one-shot fixture consumed before any sticky
// fixture for the same key. Multiple queued fixtures serve in FIFO order.
func (f *FakeRunner) QueueCommand(res Result, err error, name string, args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cmdKey(name, args)
	f.queued[key] = append(f.queued[key], cmdFixture{res: res, err: err})
}

// SetCommandDelay makes the sticky fixture for the key take wall time to
// return, for exercising timeout paths.
func (f *FakeRunner) SetCommandDelay(delay time.Duration, name string, args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cmdKey(name, args)
	fix := f.sticky[key]
	fix.delay = delay
	f.sticky[key] = fix
}

// SetFile installs or replaces a file fixture.
func (f *FakeRunner) SetFile(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), data...)
	delete(f.fileErrs, path)
}

// SetFileError makes reads of path fail with err.
func (f *FakeRunner) SetFileError(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileErrs[path] = err
}

// RemoveFile deletes a file fixture so reads fail with KindNotAvailable.
func (f *FakeRunner) RemoveFile(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	delete(f.fileErrs, path)
}

// SetGlob pins the result of a specific pattern. Patterns without a
// pinned result match against the file fixture paths.
func (f *FakeRunner) SetGlob(pattern string, matches []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globs[pattern] = append([]string(nil), matches...)
}

// Run serves the fixture for the command, recording the call.
func (f *FakeRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	key := cmdKey(cmd.Name, cmd.Args)

	f.mu.Lock()
	f.calls = append(f.calls, cmd)

	var fix cmdFixture
	var found bool
	if q := f.queued[key]; len(q) > 0 {
		fix, found = q[0], true
		f.queued[key] = q[1:]
	} else if s, ok := f.sticky[key]; ok {
		fix, found = s, true
	}
	f.mu.Unlock()

	if !found {
		return Result{}, errdefs.Errorf(errdefs.KindNotAvailable, "host.Run(%s): no fixture for %q", cmd.Name, key)
	}

	if fix.delay > 0 {
		timeout := cmd.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		select {
		case <-time.After(fix.delay):
		case <-ctx.Done():
			return Result{}, errdefs.Errorf(errdefs.KindTimeout, "host.Run(%s): timed out after %s", cmd.Name, timeout)
		}
	}

	return fix.res, fix.err
}

// ReadFile serves the file fixture for path, recording the read.
func (f *FakeRunner) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads = append(f.reads, path)
	if err, ok := f.fileErrs[path]; ok {
		return nil, err
	}
	data, ok := f.files[path]
	if !ok {
		return nil, errdefs.Errorf(errdefs.KindNotAvailable, "host.ReadFile(%s): no fixture", path)
	}
	return append([]byte(nil), data...), nil
}

// WriteFile records the write and updates the fixture so a later read
// observes the written bytes.
func (f *FakeRunner) WriteFile(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.fileErrs[path]; ok {
		return err
	}
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, WriteOp{Path: path, Data: cp})
	f.files[path] = cp
	return nil
}

// Glob returns the pinned result for pattern, or matches the pattern
// against the file fixture paths, sorted.
func (f *FakeRunner) Glob(pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pinned, ok := f.globs[pattern]; ok {
		return append([]string(nil), pinned...), nil
	}

	var matches []string
	for path := range f.files {
		ok, err := filepath.Match(pattern, path)
		if err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindInvalidArg, fmt.Sprintf("host.Glob(%s)", pattern))
		}
		if ok {
			matches = append(matches, path)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadCounters parses the diskstats fixture and extracts one device.
func (f *FakeRunner) ReadCounters(device string) (DiskCounters, error) {
	data, err := f.ReadFile(ProcDiskstats)
	if err != nil {
		return DiskCounters{}, err
	}
	all, err := ParseDiskstats(data)
	if err != nil {
		return DiskCounters{}, err
	}
	return countersFor(all, device)
}

// Calls returns a copy of every Run invocation in order.
func (f *FakeRunner) Calls() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cmd(nil), f.calls...)
}

// CallsFor returns the recorded Run invocations of one tool.
func (f *FakeRunner) CallsFor(name string) []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Cmd
	for _, c := range f.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ReadPaths returns a copy of every ReadFile path in order.
func (f *FakeRunner) ReadPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reads...)
}

// Writes returns a copy of every WriteFile call in order.
func (f *FakeRunner) Writes() []WriteOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WriteOp(nil), f.writes...)
}

// Reset clears recorded calls but keeps fixtures.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.reads = nil
	f.writes = nil
}
