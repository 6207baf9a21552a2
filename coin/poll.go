// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package coin

import "github.com/davidmpye/mdb/internal/bitfield"

// maxPollEvents bounds a single POLL reply, matching the spec's "up to 16
// events" and the no-dynamic-allocation design note: events are collected
// into a fixed-capacity array, never a growing slice.
const maxPollEvents = 16

// ChangerStatus is the status-event enumeration from the glossary.
type ChangerStatus byte

const (
	StatusEscrowPressed        ChangerStatus = 0x01
	StatusChangerPayoutBusy    ChangerStatus = 0x02
	StatusNoCredit             ChangerStatus = 0x03
	StatusDefectiveTubeSensor  ChangerStatus = 0x04
	StatusDoubleArrival        ChangerStatus = 0x05
	StatusAcceptorUnplugged    ChangerStatus = 0x06
	StatusTubeJam              ChangerStatus = 0x07
	StatusRomChecksumError     ChangerStatus = 0x08
	StatusCoinRoutingError     ChangerStatus = 0x09
	StatusChangerBusy          ChangerStatus = 0x10
	StatusChangerWasReset      ChangerStatus = 0x11
	StatusCoinJam              ChangerStatus = 0x12
	StatusPossibleCoinRemoval  ChangerStatus = 0x13
)

var knownChangerStatus = map[ChangerStatus]bool{
	StatusEscrowPressed: true, StatusChangerPayoutBusy: true, StatusNoCredit: true,
	StatusDefectiveTubeSensor: true, StatusDoubleArrival: true, StatusAcceptorUnplugged: true,
	StatusTubeJam: true, StatusRomChecksumError: true, StatusCoinRoutingError: true,
	StatusChangerBusy: true, StatusChangerWasReset: true, StatusCoinJam: true,
	StatusPossibleCoinRemoval: true,
}

// Routing is where an inserted coin went.
type Routing int

const (
	RoutingCashBox Routing = iota
	RoutingTube
	RoutingReject
	RoutingUnknown
)

// EventKind tags which field of Event is populated.
type EventKind int

const (
	EventStatus EventKind = iota
	EventCoinInserted
	EventManualDispense
	EventSlugCount
)

// CoinInserted describes a 01xxxxxx poll event.
type CoinInserted struct {
	CoinType      byte
	UnscaledValue uint16
	Routing       Routing
	CoinsRemaining byte
}

// ManualDispense describes a 1xxxxxxx poll event.
type ManualDispense struct {
	CoinType       byte
	Number         byte
	UnscaledValue  uint16
	CoinsRemaining byte
}

// Event is one decoded poll event, tagged by Kind. This is the sum type
// the design notes call for: a tag plus a payload discriminated by it.
// Unrecognized status bytes are logged and dropped rather than aborting
// the poll, so an EventStatus is only ever returned with Known=true.
type Event struct {
	Kind     EventKind
	Status   ChangerStatus
	Known    bool
	Coin     CoinInserted
	Dispense ManualDispense
	Slugs    byte
}

func routingFromBits(b byte) Routing {
	switch bitfield.Get(b, 4, 0x03) {
	case 0x00:
		return RoutingCashBox
	case 0x01:
		return RoutingTube
	case 0x03:
		return RoutingReject
	default:
		return RoutingUnknown
	}
}

func (a *Acceptor) unscaledValueFor(coinType byte) uint16 {
	if int(coinType) >= len(a.Slots) {
		return 0
	}
	if slot := a.Slots[coinType]; slot != nil {
		return slot.UnscaledValue
	}
	return 0
}

// decodePoll runs the two-byte framing parser (§9: an explicit Idle /
// AwaitingSecond(first) state, no look-ahead) over one POLL reply. An
// orphan first byte at end-of-frame - truncated mid-event - is logged and
// dropped rather than treated as an error.
func (a *Acceptor) decodePoll(data []byte) []Event {
	events := make([]Event, 0, maxPollEvents)

	for i := 0; i < len(data) && len(events) < maxPollEvents; i++ {
		b0 := data[i]

		switch {
		case bitfield.Bit(b0, 7): // 1xxxxxxx: manual dispense
			if i+1 >= len(data) {
				a.log.WithField("byte", b0).Debug("coin: orphan manual-dispense byte at end of poll frame")
				return events
			}
			b1 := data[i+1]
			i++
			coinType := bitfield.Get(b0, 0, 0x0F)
			events = append(events, Event{
				Kind: EventManualDispense,
				Dispense: ManualDispense{
					CoinType:       coinType,
					Number:         bitfield.Get(b0, 4, 0x07),
					UnscaledValue:  a.unscaledValueFor(coinType),
					CoinsRemaining: b1,
				},
			})

		case b0&0xC0 == 0x40: // 01xxxxxx: coin inserted
			if i+1 >= len(data) {
				a.log.WithField("byte", b0).Debug("coin: orphan coin-inserted byte at end of poll frame")
				return events
			}
			b1 := data[i+1]
			i++
			coinType := bitfield.Get(b0, 0, 0x0F)
			events = append(events, Event{
				Kind: EventCoinInserted,
				Coin: CoinInserted{
					CoinType:       coinType,
					UnscaledValue:  a.unscaledValueFor(coinType),
					Routing:        routingFromBits(b0),
					CoinsRemaining: b1,
				},
			})

		case b0&0xE0 == 0x20: // 001xxxxx: slug count
			events = append(events, Event{
				Kind:  EventSlugCount,
				Slugs: bitfield.Get(b0, 0, 0x1F),
			})

		default:
			status := ChangerStatus(b0)
			if !knownChangerStatus[status] {
				a.log.WithField("byte", b0).Debug("coin: unknown changer status byte, dropping")
				continue
			}
			events = append(events, Event{Kind: EventStatus, Status: status, Known: true})
		}
	}

	return events
}

// Poll sends POLL and decodes the reply into the events reported this
// cycle, in wire order (P4). A bare ACK reply means nothing to report.
func (a *Acceptor) Poll() []Event {
	var buf [2 * maxPollEvents]byte
	resp := a.link.Exchange([]byte{cmdPoll}, buf[:])
	if !resp.IsData {
		return nil
	}
	return a.decodePoll(resp.Data)
}
