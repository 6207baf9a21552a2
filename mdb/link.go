// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mdb implements the Multi-Drop Bus link layer: 9-bit framing,
// checksum, timeout, and the ACK/NAK/RET handshake that the coin acceptor
// and cashless device protocols (see the sibling coin and cashless
// packages) are built on top of.
package mdb

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// MDBTimeoutMS is the whole-message timeout: the link gives up waiting for
// a reply this many milliseconds after the command finished transmitting.
const MDBTimeoutMS = 50

// scratchSize is the size of the link's fixed receive buffer, which
// Exchange uses when the caller passes no buffer of its own. It holds one
// entry per payload byte; callers expecting longer replies pass a larger
// buffer.
const scratchSize = 72

// Transport is the 9-bit-capable byte link the driver reads and writes
// through. Implementations live outside this package (see transport/); the
// interface is declared here, at the point of use, so that a transport
// never needs to import mdb to satisfy it.
type Transport interface {
	// WriteByte transmits one byte with the given mode bit (the "9th
	// bit": true marks an address byte or an end-of-message byte).
	WriteByte(b byte, mode bool) error
	// ReadByte returns the next available byte and its mode bit. ok is
	// false if no byte is available yet (the call must not block).
	ReadByte() (b byte, mode bool, ok bool, err error)
}

// Clock is the monotonic timer collaborator used for the receive timeout
// and the post-RESET settle delay.
type Clock interface {
	// Micros returns a free-running microsecond counter snapshot.
	Micros() uint32
	// DelayMs blocks for the given number of milliseconds.
	DelayMs(ms uint32)
}

// Mdb owns the transport and clock for one physical bus and serializes all
// access to it: exactly one command-reply cycle runs at a time, matching
// the single-threaded, cooperative concurrency model the bus requires.
type Mdb struct {
	tr  Transport
	clk Clock
	log *logrus.Logger

	mu      sync.Mutex
	scratch [scratchSize]byte
}

// New returns a link driving tr and clocked by clk. A nil log falls back to
// logrus's standard logger.
func New(tr Transport, clk Clock, log *logrus.Logger) *Mdb {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Mdb{tr: tr, clk: clk, log: log}
}

// checksum computes the 8-bit wrap-around sum of payload, as transmitted in
// the final byte of a command or data frame.
func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// sendCommand transmits payload as a command frame: byte 0 with mode bit
// set, the remaining bytes with mode bit clear, followed by the checksum
// byte (also mode bit clear).
func (m *Mdb) sendCommand(payload []byte) error {
	if len(payload) == 0 {
		return errors.New("mdb: command payload must not be empty")
	}
	for i, b := range payload {
		if err := m.tr.WriteByte(b, i == 0); err != nil {
			return err
		}
	}
	return m.tr.WriteByte(checksum(payload), false)
}

// sendStatus transmits a bare ACK, NAK, or RET: one byte, mode bit set (a
// single-byte reply is always its own end-of-message, the same as a
// peripheral's bare status reply), no checksum. Any other status is a
// programming error and is rejected locally without touching the wire.
func (m *Mdb) sendStatus(s Status) error {
	b, ok := s.wireByte()
	if !ok {
		m.log.WithField("status", s).Error("mdb: refusing to transmit non-status-byte value")
		return errors.New("mdb: status value is not transmittable")
	}
	return m.tr.WriteByte(b, true)
}

// receive collects a single reply frame after a command has been sent,
// classifying it per the table in the link layer design: a bare ACK/NAK
// status, a data frame (acknowledged automatically on success), a checksum
// error (answered with silence), a buffer overflow, or a timeout.
func (m *Mdb) receive(buf []byte) Response {
	start := m.clk.Micros()

	var n int
	var sum byte

	for {
		if m.clk.Micros()-start >= MDBTimeoutMS*1000 {
			return Response{Status: StatusNoReply}
		}

		b, mode, ok, err := m.tr.ReadByte()
		if err != nil {
			m.log.WithError(err).Debug("mdb: transport read error")
			return Response{Status: StatusNoReply}
		}
		if !ok {
			continue
		}

		if mode {
			// End of message.
			if n == 0 {
				status := statusFromWire(b)
				if status == StatusInvalid {
					m.log.WithField("byte", b).Debug("mdb: single-byte reply was neither ACK nor NAK")
				}
				return Response{Status: status}
			}
			if b == sum {
				resp := Response{IsData: true, Data: append([]byte(nil), buf[:n]...)}
				if err := m.sendStatus(StatusACK); err != nil {
					m.log.WithError(err).Debug("mdb: failed to ack data frame")
				}
				return resp
			}
			m.log.WithFields(logrus.Fields{"got": b, "want": sum}).Debug("mdb: checksum mismatch, staying silent")
			return Response{Status: StatusChecksumErr}
		}

		if n == len(buf) {
			m.log.Debug("mdb: receive buffer too small, aborting read")
			return Response{Status: StatusBufOverflow}
		}
		buf[n] = b
		sum += b
		n++
	}
}

// Exchange sends payload as a command and returns the peripheral's reply,
// using buf as scratch space for any data frame. buf may be nil if the
// caller only expects a bare status.
func (m *Mdb) Exchange(payload []byte, buf []byte) Response {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sendCommand(payload); err != nil {
		m.log.WithError(err).Debug("mdb: failed to send command")
		return Response{Status: StatusNoReply}
	}
	if buf == nil {
		buf = m.scratch[:]
	}
	return m.receive(buf)
}

// AckCycle sends payload and reports whether the reply was a bare ACK. Any
// other outcome - NAK, timeout, checksum error, or a data frame - counts as
// false.
func (m *Mdb) AckCycle(payload []byte) bool {
	resp := m.Exchange(payload, nil)
	return !resp.IsData && resp.Status == StatusACK
}

// Logger returns the logger this link was constructed with, so that
// peripheral-layer packages can share it.
func (m *Mdb) Logger() *logrus.Logger {
	return m.log
}

// ClockSource returns the clock this link was constructed with.
func (m *Mdb) ClockSource() Clock {
	return m.clk
}
