// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package clock provides the monotonic timer collaborator the mdb link
// uses for its receive timeout and post-reset settle delay, adapting the
// teacher's function-variable timer source (arm.TimerFn backed by a
// hardware counter register) to the host Go runtime's own monotonic clock.
package clock

import "time"

// System is a Clock backed by the Go runtime's monotonic clock. It
// satisfies mdb.Clock structurally; this package never imports mdb.
type System struct {
	epoch time.Time
}

// NewSystem returns a System clock zeroed at the moment of construction,
// mirroring the teacher's InitGlobalTimers/InitGenericTimers pattern of
// establishing a reference point once at startup.
func NewSystem() *System {
	return &System{epoch: time.Now()}
}

// Micros returns a free-running microsecond counter snapshot.
func (s *System) Micros() uint32 {
	return uint32(time.Since(s.epoch).Microseconds())
}

// DelayMs blocks the calling goroutine for the given duration.
func (s *System) DelayMs(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Mock is a deterministic Clock for tests: Micros advances by Step on
// every read (so a tight polling loop reaches a timeout after a fixed
// number of iterations with no real sleep), and DelayMs is recorded
// instead of actually blocking.
type Mock struct {
	Now   uint32
	Step  uint32
	Delays []uint32
}

func (m *Mock) Micros() uint32 {
	v := m.Now
	m.Now += m.Step
	return v
}

func (m *Mock) DelayMs(ms uint32) {
	m.Delays = append(m.Delays, ms)
	m.Now += ms * 1000
}
