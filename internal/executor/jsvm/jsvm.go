// Package jsvm evaluates JavaScript in an embedded goja runtime.
//
// ISOLATION:
// Every call gets a fresh goja.Runtime with nothing registered on it: no
// require, no console, no filesystem or network bindings. Only the
// ECMAScript built-ins are reachable from the script.
//
// LIMITS:
// A watchdog goroutine wakes every tick and interrupts the runtime when the
// time limit has passed, the caller's context is done, or the heap has grown
// past the memory ceiling since the call started. goja honours the interrupt
// at the next instruction boundary, so the limits are cooperative: a host
// call that never returns to the interpreter loop is not stopped.
//
// Heap growth is read from runtime/metrics and is process-wide. Concurrent
// evaluations and other allocating goroutines count towards each other's
// ceiling, and garbage not yet collected counts too. The ceiling is a guard
// against runaway scripts, not an accounting tool.
package jsvm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/metrics"
	"time"

	"github.com/dop251/goja"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/executor"
)

// DefaultTick is how often the watchdog checks the limits.
const DefaultTick = 10 * time.Millisecond

const heapMetric = "/memory/classes/heap/objects:bytes"

// Config holds the default limits.
type Config struct {
	MemoryLimit int64
	Timeout     time.Duration
	Tick        time.Duration
}

// Interpreter implements executor.Executor.
type Interpreter struct {
	config Config
	logger *slog.Logger
}

var _ executor.Executor = (*Interpreter)(nil)

// New creates an Interpreter.
func New(cfg Config, logger *slog.Logger) *Interpreter {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	return &Interpreter{config: cfg, logger: logger}
}

// limitError is the value passed to Runtime.Interrupt.
type limitError struct {
	msg string
}

func (e *limitError) Error() string { return e.msg }

// Execute evaluates req.Code and returns its completion value.
func (in *Interpreter) Execute(ctx context.Context, req executor.ExecutionRequest) (res *executor.ExecutionResult, err error) {
	memLimit, timeout := in.limits(req.Options)
	start := time.Now()

	vm := goja.New()
	done := make(chan struct{})
	defer close(done)
	go in.watch(ctx, vm, done, start, memLimit, timeout)

	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("interpreter panic", slog.Any("panic", r))
			res = executor.Err(apperror.SandboxFault(fmt.Sprint(r)).Error(), time.Since(start))
			err = nil
		}
	}()

	value, runErr := vm.RunString(req.Code)
	elapsed := time.Since(start)
	if runErr != nil {
		msg := errorMessage(runErr)
		in.logger.Debug("script failed", slog.String("error", msg), slog.Duration("elapsed", elapsed))
		return executor.Err(msg, elapsed), nil
	}

	out := export(value)
	in.logger.Debug("script finished", slog.Duration("elapsed", elapsed))
	return executor.Ok(out, elapsed), nil
}

func (in *Interpreter) limits(opts executor.Options) (int64, time.Duration) {
	memLimit := in.config.MemoryLimit
	if opts.Memory > 0 {
		memLimit = opts.Memory
	}
	timeout := in.config.Timeout
	if opts.Timeout > 0 {
		timeout = time.Duration(opts.Timeout) * time.Millisecond
	}
	return memLimit, timeout
}

// watch interrupts vm once a limit is crossed. It returns when done closes.
func (in *Interpreter) watch(ctx context.Context, vm *goja.Runtime, done <-chan struct{}, start time.Time, memLimit int64, timeout time.Duration) {
	ticker := time.NewTicker(in.config.Tick)
	defer ticker.Stop()

	sample := []metrics.Sample{{Name: heapMetric}}
	baseline := heapBytes(sample)

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			vm.Interrupt(&limitError{msg: "execution cancelled: " + ctx.Err().Error()})
			return
		case <-ticker.C:
			if elapsed := time.Since(start); timeout > 0 && elapsed > timeout {
				vm.Interrupt(&limitError{msg: fmt.Sprintf("execution timed out after %s", timeout)})
				return
			}
			if memLimit > 0 {
				if grown := int64(heapBytes(sample)) - int64(baseline); grown > memLimit {
					vm.Interrupt(&limitError{msg: fmt.Sprintf("memory limit of %d bytes exceeded", memLimit)})
					return
				}
			}
		}
	}
}

func heapBytes(sample []metrics.Sample) uint64 {
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// errorMessage renders a goja failure the way a script author would read it.
func errorMessage(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if le, ok := interrupted.Value().(*limitError); ok {
			return le.msg
		}
		return fmt.Sprint(interrupted.Value())
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		if v := exception.Value(); v != nil {
			return v.String()
		}
	}
	return err.Error()
}

// export converts a completion value into plain Go data. null and undefined
// become nil. Values that cannot be JSON encoded (functions, NaN, cyclic
// objects) fall back to their string form.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	if _, err := json.Marshal(exported); err != nil {
		return v.String()
	}
	return exported
}
