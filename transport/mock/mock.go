// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mock provides an in-memory Transport double for tests of the
// coin and cashless peripheral packages, so those tests can script bus
// replies at frame granularity (a status byte, or a payload plus its
// checksum) instead of juggling individual 9th-bit writes.
package mock

// Transport is a queue-backed double satisfying mdb.Transport. Every
// command a caller sends is recorded in Sent; replies are served from a
// FIFO of pre-scripted frames queued with QueueStatus/QueueData.
type Transport struct {
	Sent []Command

	queue   [][]wireByte
	current []wireByte
	pos     int
}

// Command records one outgoing frame as written: a command's payload
// followed by its checksum byte, or a bare status byte.
type Command struct {
	Payload []byte
}

type wireByte struct {
	b    byte
	mode bool
}

var _ interface {
	WriteByte(b byte, mode bool) error
	ReadByte() (b byte, mode bool, ok bool, err error)
} = (*Transport)(nil)

// QueueStatus schedules a bare ACK/NAK/RET-style single-byte reply.
func (t *Transport) QueueStatus(b byte) {
	t.queue = append(t.queue, []wireByte{{b, true}})
}

// QueueData schedules a data-frame reply: payload bytes with mode bit
// clear, followed by the checksum byte with the end-of-message bit set.
func (t *Transport) QueueData(payload []byte) {
	var sum byte
	frame := make([]wireByte, 0, len(payload)+1)
	for _, b := range payload {
		sum += b
		frame = append(frame, wireByte{b, false})
	}
	frame = append(frame, wireByte{sum, true})
	t.queue = append(t.queue, frame)
}

// QueueBadChecksum schedules a data-frame reply whose checksum byte is
// deliberately wrong, for exercising the checksum-error path.
func (t *Transport) QueueBadChecksum(payload []byte, badChecksum byte) {
	frame := make([]wireByte, 0, len(payload)+1)
	for _, b := range payload {
		frame = append(frame, wireByte{b, false})
	}
	frame = append(frame, wireByte{badChecksum, true})
	t.queue = append(t.queue, frame)
}

func (t *Transport) WriteByte(b byte, mode bool) error {
	n := len(t.Sent)
	if mode || n == 0 {
		t.Sent = append(t.Sent, Command{})
		n = len(t.Sent)
	}
	cur := &t.Sent[n-1]
	if mode {
		cur.Payload = []byte{b}
	} else {
		cur.Payload = append(cur.Payload, b)
	}
	return nil
}

func (t *Transport) ReadByte() (byte, bool, bool, error) {
	if t.current == nil || t.pos >= len(t.current) {
		if len(t.queue) == 0 {
			return 0, false, false, nil
		}
		t.current = t.queue[0]
		t.queue = t.queue[1:]
		t.pos = 0
	}
	wb := t.current[t.pos]
	t.pos++
	if t.pos >= len(t.current) {
		t.current = nil
	}
	return wb.b, wb.mode, true, nil
}

// LastCommand returns the most recently completed outgoing command,
// including its trailing checksum byte, or nil if nothing was sent yet.
func (t *Transport) LastCommand() []byte {
	if len(t.Sent) == 0 {
		return nil
	}
	return t.Sent[len(t.Sent)-1].Payload
}
