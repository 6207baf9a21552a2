// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package coin

// DiagCategory is the first byte of an L3 DIAGNOSTICS error code.
type DiagCategory byte

const (
	DiagPoweringUp        DiagCategory = 0x01
	DiagPoweringDown      DiagCategory = 0x02
	DiagOk                DiagCategory = 0x03
	DiagKeypadShifted     DiagCategory = 0x04
	DiagInhibitedByVmc    DiagCategory = 0x06
	DiagGeneral           DiagCategory = 0x10
	DiagDiscriminator     DiagCategory = 0x11
	DiagAcceptGate        DiagCategory = 0x12
	DiagSeparator         DiagCategory = 0x13
	DiagDispenser         DiagCategory = 0x14
	DiagCoinCassette      DiagCategory = 0x15
)

var knownDiagCategory = map[DiagCategory]bool{
	DiagPoweringUp: true, DiagPoweringDown: true, DiagOk: true, DiagKeypadShifted: true,
	DiagInhibitedByVmc: true, DiagGeneral: true, DiagDiscriminator: true,
	DiagAcceptGate: true, DiagSeparator: true, DiagDispenser: true, DiagCoinCassette: true,
}

// nonSpecificSubcode is what an unrecognized subcode degrades to within
// its category, per §4.2's diagnostics rule.
const nonSpecificSubcode byte = 0x00

// knownSubcodes lists the subcodes this driver gives a specific meaning
// to; anything else reported within a known category is treated as that
// category's non-specific variant.
var knownSubcodes = map[DiagCategory]map[byte]bool{
	DiagOk: {0x00: true}, // all-good, no subcode detail
}

// DiagEvent is one decoded 2-byte DIAGNOSTICS error code.
type DiagEvent struct {
	Category    DiagCategory
	KnownCategory bool
	Subcode     byte
	NonSpecific bool // true if Subcode was not recognized within Category
}

// Diagnostics sends the L3 DIAGNOSTICS command and decodes its reply, a
// stream of 2-byte (category, subcode) error codes.
func (a *Acceptor) Diagnostics() []DiagEvent {
	var buf [64]byte
	resp := a.link.Exchange([]byte{cmdL3Prefix, l3Diagnostics}, buf[:])
	if !resp.IsData {
		return nil
	}

	var events []DiagEvent
	for i := 0; i+1 < len(resp.Data); i += 2 {
		cat := DiagCategory(resp.Data[i])
		sub := resp.Data[i+1]
		known := knownDiagCategory[cat]
		if !known {
			a.log.WithField("category", resp.Data[i]).Debug("coin: unknown diagnostics category")
		}
		nonSpecific := !knownSubcodes[cat][sub]
		if nonSpecific {
			sub = nonSpecificSubcode
		}
		events = append(events, DiagEvent{
			Category:      cat,
			KnownCategory: known,
			Subcode:       sub,
			NonSpecific:   nonSpecific,
		})
	}
	return events
}
