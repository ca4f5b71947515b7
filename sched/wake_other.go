//go:build !linux

package sched

func newWakeSignal() wakeSignal { return newChanWakeSignal() }
