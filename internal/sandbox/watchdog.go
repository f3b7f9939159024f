package sandbox

import (
	"log/slog"
	"time"
)

// interruptible is the subset of *goja.Runtime the watchdog needs: forced,
// thread-safe termination of whatever script is currently executing.
type interruptible interface {
	Interrupt(v any)
}

type armRequest struct {
	vm        interruptible
	handlerID int64
	duration  time.Duration
}

// terminatedReason is the message goja surfaces at the interrupted call
// site via *goja.InterruptedError, and the text persisted against a
// watchdog-terminated handler.
const terminatedReason = "Handler function took too long to run and was terminated."

// Watchdog owns the termination policy for every isolate run through it:
// one dedicated goroutine times exactly one armed isolate at a time. A
// process runs one watchdog per pipeline worker, so parallelism across
// workers is unaffected by the single-isolate-at-a-time restriction.
type Watchdog struct {
	arm        chan *armRequest
	terminated chan int64
	logger     *slog.Logger
}

// NewWatchdog starts a watchdog goroutine and returns a handle to it. The
// goroutine runs for the lifetime of the process; there is no Stop.
func NewWatchdog(logger *slog.Logger) *Watchdog {
	w := &Watchdog{
		arm:        make(chan *armRequest),
		terminated: make(chan int64, 16),
		logger:     logger,
	}

	go w.run()

	return w
}

func (w *Watchdog) run() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	var current *armRequest

	for {
		if current == nil {
			req := <-w.arm
			if req == nil {
				// Disarm while already disarmed: nothing to do.
				continue
			}

			current = req
			timer.Reset(req.duration)

			continue
		}

		select {
		case req := <-w.arm:
			if !timer.Stop() {
				<-timer.C
			}

			current = req
			if req != nil {
				timer.Reset(req.duration)
			}

		case <-timer.C:
			current.vm.Interrupt(terminatedReason)

			select {
			case w.terminated <- current.handlerID:
			default:
				w.logger.Warn("watchdog: terminated channel full, dropping notification", "handler_id", current.handlerID)
			}

			current = nil
		}
	}
}

// Arm starts timing vm against duration, attributed to handlerID. Call
// Disarm when the timed section completes normally; failing to do so
// leaves the watchdog timing an isolate that has already moved on.
func (w *Watchdog) Arm(vm interruptible, handlerID int64, duration time.Duration) {
	w.arm <- &armRequest{vm: vm, handlerID: handlerID, duration: duration}
}

// Disarm cancels the current timer. Safe to call even if the watchdog
// already fired and disarmed itself.
func (w *Watchdog) Disarm() {
	w.arm <- nil
}

// Terminated reports, without blocking, whether the watchdog forcibly
// terminated a handler's isolate since the last call.
func (w *Watchdog) Terminated() (handlerID int64, ok bool) {
	select {
	case id := <-w.terminated:
		return id, true
	default:
		return 0, false
	}
}
