package kernel

import "github.com/boronkernel/dispatch/klog"

// defaultQuantumTicks matches spec.md's literal default quantum.
const defaultQuantumTicks = 6

type config struct {
	quantumTicks int32
	log          klog.Sink
	debugLocks   bool
}

func defaultConfig() config {
	return config{
		quantumTicks: defaultQuantumTicks,
		log:          klog.NopSink{},
	}
}

// Option configures New. Mirrors the teacher's functional-options idiom
// (eventloop.Loop's With... options), since spec.md §6 rules out any
// file/CLI-based configuration surface.
type Option func(*config)

// WithQuantumTicks overrides the default scheduler quantum length, in
// clock ticks.
func WithQuantumTicks(ticks int32) Option {
	return func(c *config) { c.quantumTicks = ticks }
}

// WithLogger installs a klog.Sink for ambient diagnostic logging.
func WithLogger(s klog.Sink) Option {
	return func(c *config) { c.log = klog.Of(s) }
}

// WithDebugLocks enables spinlock.Debug and dispatcher.Debug for the
// kernel being constructed: lock-owner tracking (surfaced through the
// installed logger) and leveled-mutex ordering checks. Both packages keep
// package-level state, so enabling this in one Kernel enables it
// process-wide — fine for this repo's single-kernel-per-process model, but
// worth knowing if tests build more than one Kernel in the same process.
func WithDebugLocks() Option {
	return func(c *config) { c.debugLocks = true }
}
