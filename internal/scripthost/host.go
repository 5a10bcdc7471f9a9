// Package scripthost runs short JavaScript mapping functions inside goja,
// one runtime per worker OS thread, enforcing a 1s wall-clock timeout and a
// pure JSON-in/JSON-out contract (§4.1).
package scripthost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dop251/goja"

	coreerrors "github.com/integration-core/core/internal/errors"
)

const callTimeout = 1 * time.Second

// worker owns exactly one goja.Runtime, pinned to one OS thread, and
// drains a channel of tasks serially — the Go analog of "one interpreter
// per OS thread" from §4.1/§9, since goja.Runtime is not safe for
// concurrent use. Every operation against the runtime (loading a function,
// calling one) is submitted as a task so only this goroutine ever touches it.
type worker struct {
	runtime   *goja.Runtime
	functions map[string]goja.Callable
	tasks     chan func()
}

// Host is a pool of script workers plus the namespace-keyed function
// definitions loaded onto them.
type Host struct {
	workers []*worker
	next    uint64
	mu      sync.Mutex
}

// New starts a Host with the given number of worker threads.
func New(workerCount int) *Host {
	if workerCount <= 0 {
		workerCount = 1
	}
	h := &Host{workers: make([]*worker, workerCount)}
	for i := 0; i < workerCount; i++ {
		w := &worker{
			functions: make(map[string]goja.Callable),
			tasks:     make(chan func()),
		}
		h.workers[i] = w
		go w.run()
	}
	return h
}

func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.runtime = goja.New()
	attachConsole(w.runtime)

	for task := range w.tasks {
		task()
		// Yield after each script call so a CPU-bound script can't starve
		// the rest of this worker's goroutine (§4.1/§5 "must yield").
		runtime.Gosched()
	}
}

func namespaceKey(namespace, fnName string) string {
	return namespace + "\x00" + fnName
}

// Load compiles source as the body of a function named fnName under
// namespace, on every worker. Re-loading the same (namespace, fnName) pair
// replaces the prior definition.
func (h *Host) Load(namespace, fnName, source string) error {
	wrapped := fmt.Sprintf("(function %s(arg) {\n%s\n})", safeIdent(fnName), source)

	for _, w := range h.workers {
		errCh := make(chan error, 1)
		w.tasks <- func() {
			errCh <- w.load(namespace, fnName, wrapped)
		}
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

func (w *worker) load(namespace, fnName, wrapped string) error {
	val, err := w.runtime.RunString(wrapped)
	if err != nil {
		return coreerrors.ScriptError(fmt.Sprintf("scripthost: failed to compile %q: %v", fnName, err))
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return coreerrors.ScriptError(fmt.Sprintf("scripthost: %q did not compile to a function", fnName))
	}
	w.functions[namespaceKey(namespace, fnName)] = fn
	return nil
}

type callResult struct {
	output json.RawMessage
	err    error
}

// Call invokes the previously-Load-ed (namespace, fnName) function with
// argument, enforcing the 1s timeout from §4.1.
func (h *Host) Call(ctx context.Context, namespace, fnName string, argument json.RawMessage) (json.RawMessage, error) {
	w := h.pick()

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resultCh := make(chan callResult, 1)
	task := func() {
		out, err := w.call(ctx, namespace, fnName, argument)
		resultCh <- callResult{output: out, err: err}
	}

	select {
	case w.tasks <- task:
	case <-ctx.Done():
		return nil, coreerrors.ScriptTimeout()
	}

	select {
	case r := <-resultCh:
		return r.output, r.err
	case <-ctx.Done():
		return nil, coreerrors.ScriptTimeout()
	}
}

func (w *worker) call(ctx context.Context, namespace, fnName string, argument json.RawMessage) (json.RawMessage, error) {
	fn, ok := w.functions[namespaceKey(namespace, fnName)]
	if !ok {
		return nil, coreerrors.ScriptError(fmt.Sprintf("scripthost: function %q not loaded in namespace %q", fnName, namespace))
	}

	var arg interface{}
	if len(argument) > 0 {
		if err := json.Unmarshal(argument, &arg); err != nil {
			return nil, coreerrors.ScriptError("scripthost: argument is not valid JSON")
		}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.runtime.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer close(done)

	val, err := fn(goja.Undefined(), w.runtime.ToValue(arg))
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	val, err = resolveValue(ctx, val)
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	exported := val.Export()
	out, err := json.Marshal(exported)
	if err != nil {
		return nil, coreerrors.ScriptError("scripthost: function result is not JSON-serializable")
	}
	return out, nil
}

func (h *Host) pick() *worker {
	h.mu.Lock()
	idx := h.next % uint64(len(h.workers))
	h.next++
	h.mu.Unlock()
	return h.workers[idx]
}

func safeIdent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_fn"
	}
	return string(out)
}

func attachConsole(vm *goja.Runtime) {
	console := vm.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	console.Set("log", noop)
	console.Set("info", noop)
	console.Set("warn", noop)
	console.Set("error", noop)
	vm.Set("console", console)
}

func resolveValue(ctx context.Context, val goja.Value) (goja.Value, error) {
	exported := val.Export()
	promise, ok := exported.(*goja.Promise)
	if !ok {
		return val, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		return nil, promiseRejectionError(promise.Result())
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("scripthost: function returned a promise that did not settle")
	}
}

func promiseRejectionError(reason goja.Value) error {
	if reason == nil {
		return errors.New("scripthost: promise rejected")
	}
	if exported := reason.Export(); exported != nil {
		return fmt.Errorf("scripthost: promise rejected: %v", exported)
	}
	return fmt.Errorf("scripthost: promise rejected: %s", reason.String())
}

func classifyError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return coreerrors.ScriptTimeout()
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return coreerrors.ScriptTimeout()
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return coreerrors.ScriptError(exception.Error())
	}
	return coreerrors.ScriptError(err.Error())
}
