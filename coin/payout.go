// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package coin

// maxPayoutValuePolls bounds the L3 PAYOUT_VALUE_POLL loop: the changer is
// expected to finish well within this many cycles, and the bound exists
// only to stop the driver spinning forever if a changer wedges mid-payout.
const maxPayoutValuePolls = 1000

// Payout dispenses up to requested (in unscaled monetary units) from the
// coin tubes and returns the amount actually paid. L2 and L3 changers use
// different wire commands but the same accounting contract (I2, P5): the
// returned amount always equals the sum of (coins actually dispensed x
// unscaled value) across the DISPENSE/PAYOUT commands that were ACKed.
func (a *Acceptor) Payout(requested uint32) uint32 {
	if a.FeatureLevel == Level3 {
		return a.payoutL3(requested)
	}
	return a.payoutL2(requested)
}

// payoutL2 walks the coin-type table highest-index (largest denomination)
// first, dispensing as many coins as it can from each slot in turn until
// the requested amount is satisfied or the table is exhausted.
func (a *Acceptor) payoutL2(requested uint32) uint32 {
	remaining := requested
	var paid uint32

	for i := 15; i >= 0 && remaining > 0; i-- {
		slot := a.Slots[i]
		if slot == nil || slot.NumCoins == 0 || slot.UnscaledValue == 0 {
			continue
		}
		if remaining < uint32(slot.UnscaledValue) {
			continue
		}

		byValue := remaining / uint32(slot.UnscaledValue)
		numToPay := byValue
		if uint32(slot.NumCoins) < numToPay {
			numToPay = uint32(slot.NumCoins)
		}
		if numToPay > 15 {
			numToPay = 15
		}
		if numToPay == 0 {
			continue
		}

		param := byte(numToPay<<4) | byte(i)
		if !a.link.AckCycle([]byte{cmdDispense, param}) {
			a.log.WithField("slot", i).Debug("coin: DISPENSE was not acknowledged")
			continue
		}

		dispensed := uint32(numToPay) * uint32(slot.UnscaledValue)
		paid += dispensed
		remaining -= dispensed
		slot.NumCoins -= byte(numToPay)
	}

	return paid
}

// payoutL3 uses the PAYOUT/PAYOUT_VALUE_POLL/PAYOUT_STATUS command group.
// Amounts beyond what a single scaled byte can express are rejected
// without transmitting anything; the caller is responsible for chunking.
func (a *Acceptor) payoutL3(requested uint32) uint32 {
	if a.ScalingFactor == 0 {
		return 0
	}
	creditScaled := requested / uint32(a.ScalingFactor)
	if creditScaled > 255 {
		a.log.WithField("requested", requested).Debug("coin: L3 payout amount exceeds one scaled byte, caller must chunk")
		return 0
	}

	defer a.refreshTubeStatus()

	if !a.link.AckCycle([]byte{cmdL3Prefix, l3Payout, byte(creditScaled)}) {
		return 0
	}

	for i := 0; i < maxPayoutValuePolls; i++ {
		resp := a.link.Exchange([]byte{cmdL3Prefix, l3PayoutValuePoll}, nil)
		if !resp.IsData {
			break // ACK: payout finished.
		}
		// Intermediate bytes are progress only, per the source this spec
		// was distilled from; nothing here needs them.
	}

	var buf [16]byte
	resp := a.link.Exchange([]byte{cmdL3Prefix, l3PayoutStatus}, buf[:])
	if !resp.IsData {
		return 0
	}

	var paid uint32
	for i, count := range resp.Data {
		if i >= len(a.Slots) || count == 0 {
			continue
		}
		if slot := a.Slots[i]; slot != nil {
			paid += uint32(count) * uint32(slot.UnscaledValue)
		}
	}
	return paid
}
