// Package klog is the kernel's ambient diagnostic logging seam.
//
// The core never uses logging for control flow — spec.md puts printf/logging
// out of scope as a feature surface — but contract violations, queue overflow
// warnings, and wait timeouts are still worth surfacing. Subsystems depend on
// the small Sink interface below rather than importing logiface generics
// directly, so that every package stays agnostic to the concrete backend.
package klog

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Sink is the logging seam every kernel subsystem depends on. Passing a nil
// Sink through Of yields NopSink, which discards everything, mirroring
// logiface's LevelDisabled logger and eventloop.NewNoOpLogger.
type Sink interface {
	Debug(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a single structured log attribute.
type Field struct {
	Key string
	Val any
}

// Str builds a string Field.
func Str(key, val string) Field { return Field{Key: key, Val: val} }

// Int builds an int Field.
func Int(key string, val int) Field { return Field{Key: key, Val: val} }

// Any builds a Field from an arbitrary value, for attributes that don't fit
// Str or Int (goroutine IDs, call sites, anything Stringer-ish).
func Any(key string, val any) Field { return Field{Key: key, Val: val} }

// stumpySink adapts a logiface.Logger[*stumpy.Event] to Sink.
type stumpySink struct {
	logger *logiface.Logger[*stumpy.Event]
}

// NewStumpySink builds a Sink backed by stumpy (logiface's
// zero-dependency JSON backend), the same backend the teacher's logiface
// module ships as its reference implementation.
func NewStumpySink(w io.Writer) Sink {
	return &stumpySink{logger: stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(w)))}
}

func (s *stumpySink) Debug(msg string, fields ...Field) {
	apply(s.logger.Debug(), msg, fields)
}

func (s *stumpySink) Warn(msg string, fields ...Field) {
	apply(s.logger.Warning(), msg, fields)
}

func (s *stumpySink) Error(msg string, fields ...Field) {
	apply(s.logger.Err(), msg, fields)
}

func apply(b *logiface.Builder[*stumpy.Event], msg string, fields []Field) {
	if b == nil {
		return
	}
	for _, f := range fields {
		b = b.Any(f.Key, f.Val)
	}
	b.Log(msg)
}

// NopSink discards everything. Used as the default when no Sink is supplied.
type NopSink struct{}

func (NopSink) Debug(string, ...Field) {}
func (NopSink) Warn(string, ...Field)  {}
func (NopSink) Error(string, ...Field) {}

// orNop returns s, or a NopSink if s is nil.
func orNop(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	return s
}

// Of is the exported form of orNop, used by every subsystem's constructor to
// normalize a caller-supplied Sink.
func Of(s Sink) Sink { return orNop(s) }
