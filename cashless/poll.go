// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cashless

// Poll reply opcodes, §4.3's length table.
const (
	opJustReset           = 0x00
	opReaderConfigData     = 0x01
	opDisplayRequest       = 0x02
	opBeginSession         = 0x03
	opSessionCancelRequest = 0x04
	opVendApproved         = 0x05
	opVendDenied           = 0x06
	opEndSession           = 0x07
	opCancelled            = 0x08
	opPeripheralID         = 0x09
	opMalfunction          = 0x0A
	opOutOfSequence        = 0x0B
	opRevalueApproved      = 0x0D
	opRevalueDenied        = 0x0E
	opRevalueLimitAmount   = 0x0F
	opTimeDateRequest      = 0x11
	opDataEntryRequest     = 0x12
)

// maxPollEvents bounds a single poll frame, matching the no-dynamic-
// allocation design note.
const maxPollEvents = 16

// lengthFor looks up how many bytes (including the opcode itself) opcode
// c occupies in a poll reply at the given feature level. BEGIN_SESSION,
// PERIPHERAL_ID, and OUT_OF_SEQUENCE vary by level; everything else is
// fixed.
func lengthFor(c byte, level Level) (int, bool) {
	switch c {
	case opJustReset:
		return 1, true
	case opReaderConfigData:
		return 8, true
	case opDisplayRequest:
		return 34, true
	case opBeginSession:
		if level == Level1 {
			return 3, true
		}
		return 10, true
	case opSessionCancelRequest:
		return 1, true
	case opVendApproved:
		return 3, true
	case opVendDenied:
		return 1, true
	case opEndSession:
		return 1, true
	case opCancelled:
		return 1, true
	case opPeripheralID:
		if level == Level3 {
			return 34, true
		}
		return 30, true
	case opMalfunction:
		return 2, true
	case opOutOfSequence:
		if level == Level1 {
			return 1, true
		}
		return 2, true
	case opRevalueApproved:
		return 1, true
	case opRevalueDenied:
		return 1, true
	case opRevalueLimitAmount:
		return 3, true
	case opTimeDateRequest:
		return 1, true
	case opDataEntryRequest:
		return 2, true
	default:
		return 0, false
	}
}

// EventKind tags which field of Event is populated.
type EventKind int

const (
	EventJustReset EventKind = iota
	EventReaderConfigData
	EventDisplayRequest
	EventBeginSession
	EventSessionCancelRequest
	EventVendApproved
	EventVendDenied
	EventEndSession
	EventCancelled
	EventPeripheralID
	EventMalfunction
	EventOutOfSequence
	EventRevalueApproved
	EventRevalueDenied
	EventRevalueLimitAmount
	EventTimeDateRequest
	EventDataEntryRequest
)

// BeginSession is the L2+ decoding of a BEGIN_SESSION event (S5); an L1
// reply carries only FundsAvailable and leaves PaymentMediaID zeroed.
type BeginSession struct {
	FundsAvailable uint32
	PaymentMediaID [4]byte
}

// VendApproved carries the approved vend amount, which may differ from
// the requested price (e.g. a discount).
type VendApproved struct {
	Value uint16
}

// Malfunction carries the reader's reported error code.
type Malfunction struct {
	Code byte
}

// Event is one decoded poll event, tagged by Kind. Opcodes this driver
// does not need to act on beyond logging (DISPLAY_REQUEST,
// READER_CONFIG_DATA, revalue replies, time/data-entry requests) still
// decode to an Event carrying their raw payload, so a caller that cares
// can read it; the session state machine below only reacts to the
// subset that changes session state.
type Event struct {
	Kind         EventKind
	Raw          []byte
	BeginSession BeginSession
	VendApproved VendApproved
	Malfunction  Malfunction
}

func kindForOpcode(c byte) EventKind {
	switch c {
	case opJustReset:
		return EventJustReset
	case opReaderConfigData:
		return EventReaderConfigData
	case opDisplayRequest:
		return EventDisplayRequest
	case opBeginSession:
		return EventBeginSession
	case opSessionCancelRequest:
		return EventSessionCancelRequest
	case opVendApproved:
		return EventVendApproved
	case opVendDenied:
		return EventVendDenied
	case opEndSession:
		return EventEndSession
	case opCancelled:
		return EventCancelled
	case opPeripheralID:
		return EventPeripheralID
	case opMalfunction:
		return EventMalfunction
	case opOutOfSequence:
		return EventOutOfSequence
	case opRevalueApproved:
		return EventRevalueApproved
	case opRevalueDenied:
		return EventRevalueDenied
	case opRevalueLimitAmount:
		return EventRevalueLimitAmount
	case opTimeDateRequest:
		return EventTimeDateRequest
	default:
		return EventDataEntryRequest
	}
}

// decodePoll consumes a poll reply frame by repeatedly reading an opcode
// byte, looking up its length, and slicing off that many bytes as one
// event. Unlike the coin acceptor's bit-pattern framing, cashless poll
// replies have no ambiguity once the opcode is known - but an opcode this
// driver has never heard of leaves no way to know where the next event
// starts, so decoding stops there and what was decoded so far is
// returned.
func (d *Device) decodePoll(data []byte) []Event {
	events := make([]Event, 0, maxPollEvents)

	for i := 0; i < len(data) && len(events) < maxPollEvents; {
		c := data[i]
		length, known := lengthFor(c, d.Level)
		if !known {
			d.log.WithField("opcode", c).Debug("cashless: unknown poll opcode, discarding remainder of frame")
			break
		}
		if i+length > len(data) {
			d.log.WithField("opcode", c).Debug("cashless: truncated poll event at end of frame")
			break
		}

		payload := data[i+1 : i+length]
		ev := Event{Kind: kindForOpcode(c), Raw: payload}

		switch c {
		case opBeginSession:
			// L1 carries a 2-byte funds-available field and nothing else;
			// L2+ carries 4-byte funds, 4-byte payment media ID, and a
			// trailing reserved byte (accounting for the 10-byte total
			// length against the 4+4-byte fields the protocol actually
			// defines).
			switch len(payload) {
			case 2:
				ev.BeginSession.FundsAvailable = uint32(payload[0])<<8 | uint32(payload[1])
			case 9:
				ev.BeginSession.FundsAvailable = uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
				copy(ev.BeginSession.PaymentMediaID[:], payload[4:8])
			}
		case opVendApproved:
			ev.VendApproved.Value = uint16(payload[0])<<8 | uint16(payload[1])
		case opMalfunction:
			ev.Malfunction.Code = payload[0]
		}

		events = append(events, ev)
		i += length
	}

	return events
}

// Poll sends POLL, decodes the reply, and advances the session state
// machine (see session.go) before returning the events to the caller. A
// VEND_APPROVED event is dropped (P6) - logged, not returned - unless the
// session was in Vending when it arrived.
func (d *Device) Poll() []Event {
	var buf [2 + 34*maxPollEvents]byte
	resp := d.link.Exchange([]byte{cmdPoll}, buf[:])
	if !resp.IsData {
		return nil
	}

	raw := d.decodePoll(resp.Data)
	filtered := make([]Event, 0, len(raw))
	for _, ev := range raw {
		if ev.Kind == EventVendApproved && d.state != StateVending {
			d.log.WithField("state", d.state).Debug("cashless: VEND_APPROVED received outside Vending, dropping")
			continue
		}
		d.applyTransition(ev)
		filtered = append(filtered, ev)
	}
	return filtered
}
