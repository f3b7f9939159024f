// Package sandbox runs untrusted handler JavaScript inside isolated goja
// runtimes, enforcing wall-clock time limits via a dedicated watchdog:
// one isolate per handler, a load phase that binds a global function
// named f, and a run phase that invokes f once per event, each phase
// bounded by a forced termination if it overruns its budget.
package sandbox

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dop251/goja"
)

// DefaultLoadTimeout and DefaultExecutionTimeout are the default budgets
// for the load and run phases respectively.
const (
	DefaultLoadTimeout      = 10 * time.Millisecond
	DefaultExecutionTimeout = 10 * time.Millisecond
)

// Config tunes the watchdog budgets for load and per-event execution.
type Config struct {
	LoadTimeout      time.Duration
	ExecutionTimeout time.Duration
}

// Environment is the global `environment` object every handler sees.
type Environment struct {
	Environment string
	Version     string
}

// Event is one hydrated event body handed to a handler's f.
type Event struct {
	EventID  int64
	JSONBody []byte
}

// Result is one row to persist against an ExecutionResult: exactly one of
// Output or Error is set. EventID is -1 for handler-level results (load
// failure, missing f, a timeout) that precede or pre-empt per-event
// execution.
type Result struct {
	EventID int64
	Output  []byte
	Error   string
}

// Runner executes one handler's code against a stream of events inside a
// single reused isolate, coordinating with a Watchdog to bound both the
// load and each invocation.
type Runner struct {
	watchdog *Watchdog
	config   Config
	env      Environment
	logger   *slog.Logger
}

// NewRunner creates a runner bound to the given watchdog, timeout config,
// and environment object.
func NewRunner(watchdog *Watchdog, config Config, env Environment, logger *slog.Logger) *Runner {
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultLoadTimeout
	}

	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = DefaultExecutionTimeout
	}

	return &Runner{watchdog: watchdog, config: config, env: env, logger: logger}
}

// RunAll loads handlerID's code into a fresh isolate and invokes it once
// per event, in order, stopping early if the watchdog ever terminates an
// invocation -- a terminated isolate is not trusted to run further code,
// so the remaining events in this batch produce no per-event result.
func (r *Runner) RunAll(handlerID int64, code string, events []Event) []Result {
	vm := goja.New()
	vm.Set("environment", map[string]string{
		"environment": r.env.Environment,
		"version":     r.env.Version,
	})

	if failure, loaded := r.load(vm, handlerID, code); !loaded {
		return []Result{failure}
	}

	fn, ok := goja.AssertFunction(vm.Get("f"))
	if !ok {
		return []Result{{EventID: -1, Error: "handler did not bind a function named f"}}
	}

	var results []Result

	for _, ev := range events {
		rs, alive := r.runOne(vm, fn, handlerID, ev)
		results = append(results, rs...)

		if !alive {
			break
		}
	}

	return results
}

// load compiles and runs code, binding the global f the run phase
// invokes. Returns (failure, false) when the load did not succeed, in
// which case no event is executed for this handler.
func (r *Runner) load(vm *goja.Runtime, handlerID int64, code string) (Result, bool) {
	r.watchdog.Arm(vm, handlerID, r.config.LoadTimeout)
	_, err := vm.RunString(code)
	r.watchdog.Disarm()

	if _, terminated := r.watchdog.Terminated(); terminated {
		return Result{EventID: -1, Error: terminatedReason}, false
	}

	if err != nil {
		return Result{EventID: -1, Error: fmt.Sprintf("failed to load handler: %s", describeJSError(err))}, false
	}

	fVal := vm.Get("f")
	if fVal == nil || goja.IsUndefined(fVal) {
		return Result{EventID: -1, Error: "handler did not define a function named f"}, false
	}

	if _, ok := goja.AssertFunction(fVal); !ok {
		return Result{EventID: -1, Error: "f was not a function"}, false
	}

	return Result{}, true
}

// runOne invokes f against one event's hydrated body, parsed as JSON
// inside the sandbox itself. alive reports whether the isolate is still
// usable for subsequent events: false after a watchdog termination.
func (r *Runner) runOne(vm *goja.Runtime, fn goja.Callable, handlerID int64, ev Event) ([]Result, bool) {
	input, err := parseJSON(vm, ev.JSONBody)
	if err != nil {
		return []Result{{EventID: ev.EventID, Error: fmt.Sprintf("event body is not valid JSON: %s", err)}}, true
	}

	r.watchdog.Arm(vm, handlerID, r.config.ExecutionTimeout)
	ret, err := fn(goja.Undefined(), input)
	r.watchdog.Disarm()

	if _, terminated := r.watchdog.Terminated(); terminated {
		return []Result{{EventID: -1, Error: terminatedReason}}, false
	}

	if err != nil {
		return []Result{{EventID: ev.EventID, Error: describeJSError(err)}}, true
	}

	return r.validateReturn(vm, ev.EventID, ret), true
}

// validateReturn enforces the return contract: f must return an array,
// and each element of that array becomes its own ExecutionResult row
// rather than one row holding the whole array. The array/stringify checks run
// through the sandbox's own JSON and Array globals so the validation
// reflects exactly what the handler's own runtime considers serializable.
func (r *Runner) validateReturn(vm *goja.Runtime, eventID int64, ret goja.Value) []Result {
	if ret == nil || goja.IsUndefined(ret) {
		return []Result{{EventID: eventID, Error: "f() didn't return a JSON-serializable array: no value was returned"}}
	}

	isArrayFn, ok := goja.AssertFunction(vm.Get("Array").ToObject(vm).Get("isArray"))
	if !ok {
		return []Result{{EventID: eventID, Error: "f() didn't return a JSON-serializable array: sandbox missing Array.isArray"}}
	}

	isArray, err := isArrayFn(goja.Undefined(), ret)
	if err != nil || !isArray.ToBoolean() {
		return []Result{{EventID: eventID, Error: "f() didn't return a JSON-serializable array: return value is not an array"}}
	}

	stringifyFn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return []Result{{EventID: eventID, Error: "f() didn't return a JSON-serializable array: sandbox missing JSON.stringify"}}
	}

	retObj := ret.ToObject(vm)

	length := int(retObj.Get("length").ToInteger())
	results := make([]Result, 0, length)

	for i := 0; i < length; i++ {
		elem := retObj.Get(strconv.Itoa(i))

		stringified, err := stringifyFn(goja.Undefined(), elem)
		if err != nil {
			results = append(results, Result{EventID: eventID, Error: fmt.Sprintf("f() didn't return a JSON-serializable array: element %d: %s", i, describeJSError(err))})
			continue
		}

		if stringified == nil || goja.IsUndefined(stringified) {
			results = append(results, Result{EventID: eventID, Error: fmt.Sprintf("f() didn't return a JSON-serializable array: element %d is not JSON-serializable", i)})
			continue
		}

		results = append(results, Result{EventID: eventID, Output: []byte(stringified.String())})
	}

	return results
}

// parseJSON parses raw as JSON using the sandbox's own JSON.parse, so the
// value a handler receives is exactly what its own runtime would produce
// for that input, not a Go-side approximation.
func parseJSON(vm *goja.Runtime, raw []byte) (goja.Value, error) {
	parseFn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, fmt.Errorf("sandbox missing JSON.parse")
	}

	return parseFn(goja.Undefined(), vm.ToValue(string(raw)))
}

// describeJSError renders a goja error without exposing Go-side stack
// frames: an *goja.Exception carries the thrown JS value's own message.
func describeJSError(err error) string {
	if exc, ok := err.(*goja.Exception); ok {
		return exc.Value().String()
	}

	return err.Error()
}
