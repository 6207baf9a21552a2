// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cashless

import "errors"

// SessionState is the cashless device's session state machine (§4.3):
// Inactive -> Enabled -> SessionIdle -> Vending -> SessionIdle -> ...,
// with error branches back to Enabled or Inactive.
type SessionState int

const (
	StateInactive SessionState = iota
	StateEnabled
	StateSessionIdle
	StateVending
)

func (s SessionState) String() string {
	switch s {
	case StateInactive:
		return "Inactive"
	case StateEnabled:
		return "Enabled"
	case StateSessionIdle:
		return "SessionIdle"
	case StateVending:
		return "Vending"
	default:
		return "Unknown"
	}
}

// applyTransition advances the state machine in response to one decoded
// poll event, per the table in §4.3. Events that do not change state
// (DISPLAY_REQUEST, revalue replies, and so on) pass through untouched.
func (d *Device) applyTransition(ev Event) {
	switch ev.Kind {
	case EventJustReset:
		d.log.Debug("cashless: reader reported JUST_RESET mid-session, re-init required")
		d.state = StateInactive

	case EventMalfunction:
		d.log.WithField("code", ev.Malfunction.Code).Debug("cashless: reader reported MALFUNCTION")
		d.state = StateInactive

	case EventBeginSession:
		if d.state != StateEnabled {
			d.log.WithField("state", d.state).Debug("cashless: BEGIN_SESSION received outside Enabled, accepting anyway")
		}
		d.fundsAvailable = ev.BeginSession.FundsAvailable
		d.paymentMediaID = ev.BeginSession.PaymentMediaID
		d.state = StateSessionIdle

	case EventSessionCancelRequest, EventEndSession:
		d.state = StateEnabled
		if !d.link.AckCycle([]byte{cmdVend, vendSessionComplete}) {
			d.log.Debug("cashless: SESSION_COMPLETE was not acknowledged")
		}

	case EventOutOfSequence:
		d.log.WithField("state", d.state).Debug("cashless: OUT_OF_SEQUENCE, session ended, re-enable required")
		d.state = StateEnabled

	case EventVendApproved:
		// Filtered by Poll before reaching here unless state is Vending;
		// vend resolution (VendSuccess/VendFailure) is the caller's job.
	}
}

// RequestVend issues VEND_REQUEST for the given item price and number.
// Valid from SessionIdle; the reader answers asynchronously via a later
// Poll with VEND_APPROVED or VEND_DENIED.
func (d *Device) RequestVend(itemPrice, itemNumber uint16) error {
	if d.state != StateSessionIdle {
		return errors.New("cashless: RequestVend called outside SessionIdle")
	}
	if !d.link.AckCycle([]byte{
		cmdVend, vendRequest,
		byte(itemPrice >> 8), byte(itemPrice),
		byte(itemNumber >> 8), byte(itemNumber),
	}) {
		return errors.New("cashless: VEND_REQUEST was not acknowledged")
	}
	d.vendPrice = itemPrice
	d.vendItem = itemNumber
	d.state = StateVending
	return nil
}

// VendSuccess reports a completed dispense back to the reader and
// returns the session to SessionIdle.
func (d *Device) VendSuccess() error {
	if d.state != StateVending {
		return errors.New("cashless: VendSuccess called outside Vending")
	}
	ok := d.link.AckCycle([]byte{cmdVend, vendSuccess, byte(d.vendItem >> 8), byte(d.vendItem)})
	d.state = StateSessionIdle
	if !ok {
		return errors.New("cashless: VEND_SUCCESS was not acknowledged")
	}
	return nil
}

// VendFailure reports a failed dispense attempt and returns the session
// to SessionIdle.
func (d *Device) VendFailure() error {
	if d.state != StateVending {
		return errors.New("cashless: VendFailure called outside Vending")
	}
	ok := d.link.AckCycle([]byte{cmdVend, vendFailure})
	d.state = StateSessionIdle
	if !ok {
		return errors.New("cashless: VEND_FAILURE was not acknowledged")
	}
	return nil
}

// Cancel sends VEND_CANCEL, the VMC-initiated abort of an in-progress
// vend request.
func (d *Device) Cancel() error {
	if !d.link.AckCycle([]byte{cmdVend, vendCancel}) {
		return errors.New("cashless: VEND_CANCEL was not acknowledged")
	}
	d.state = StateSessionIdle
	return nil
}

// SessionComplete ends the current session, telling the reader the VMC
// has nothing further to sell this session.
func (d *Device) SessionComplete() error {
	if !d.link.AckCycle([]byte{cmdVend, vendSessionComplete}) {
		return errors.New("cashless: SESSION_COMPLETE was not acknowledged")
	}
	d.state = StateEnabled
	return nil
}

// CashSale notifies the reader of a cash-paid vend, for readers that
// track balances across payment methods (§4.3's CASH_SALE subcommand).
func (d *Device) CashSale(itemPrice, itemNumber uint16) error {
	if !d.link.AckCycle([]byte{
		cmdVend, vendCashSale,
		byte(itemPrice >> 8), byte(itemPrice),
		byte(itemNumber >> 8), byte(itemNumber),
	}) {
		return errors.New("cashless: CASH_SALE was not acknowledged")
	}
	return nil
}

// NegativeVendRequest issues NEGATIVE_VEND_REQUEST, the refund-style
// counterpart of RequestVend for a negative-price item (e.g. a bottle
// return). Valid from SessionIdle; like RequestVend, the reader answers
// asynchronously via a later Poll with VEND_APPROVED or VEND_DENIED.
func (d *Device) NegativeVendRequest(itemPrice, itemNumber uint16) error {
	if d.state != StateSessionIdle {
		return errors.New("cashless: NegativeVendRequest called outside SessionIdle")
	}
	if !d.link.AckCycle([]byte{
		cmdVend, vendNegativeVendRequest,
		byte(itemPrice >> 8), byte(itemPrice),
		byte(itemNumber >> 8), byte(itemNumber),
	}) {
		return errors.New("cashless: NEGATIVE_VEND_REQUEST was not acknowledged")
	}
	d.vendPrice = itemPrice
	d.vendItem = itemNumber
	d.state = StateVending
	return nil
}

// ReaderCancel sends READER/CANCEL, the VMC-initiated abort of a
// reader-side prompt (e.g. a DISPLAY_REQUEST or DATA_ENTRY_REQUEST the
// VMC does not want to honor). It does not touch the session state
// machine; only the reader's own prompt is cancelled.
func (d *Device) ReaderCancel() error {
	if !d.link.AckCycle([]byte{cmdReader, readerCancel}) {
		return errors.New("cashless: READER CANCEL was not acknowledged")
	}
	return nil
}

// DataEntryResponse answers a DATA_ENTRY_REQUEST poll event with the
// VMC's collected key codes via READER/DATA_ENTRY_RESP.
func (d *Device) DataEntryResponse(data []byte) error {
	payload := append([]byte{cmdReader, readerDataEntryResp}, data...)
	if !d.link.AckCycle(payload) {
		return errors.New("cashless: READER DATA_ENTRY_RESP was not acknowledged")
	}
	return nil
}

// RevalueRequest issues REVALUE/REQUEST to add amount to a stored-value
// payment media outside of a vend.
func (d *Device) RevalueRequest(amount uint16) error {
	if !d.link.AckCycle([]byte{cmdRevalue, revalueRequest, byte(amount >> 8), byte(amount)}) {
		return errors.New("cashless: REVALUE REQUEST was not acknowledged")
	}
	return nil
}

// RevalueLimitRequest issues REVALUE/LIMIT_REQUEST, asking the reader to
// report the maximum amount it will accept via a later
// REVALUE_LIMIT_AMOUNT poll event.
func (d *Device) RevalueLimitRequest() error {
	if !d.link.AckCycle([]byte{cmdRevalue, revalueLimitRequest}) {
		return errors.New("cashless: REVALUE LIMIT_REQUEST was not acknowledged")
	}
	return nil
}

// FundsAvailable returns the funds reported by the most recent
// BEGIN_SESSION event.
func (d *Device) FundsAvailable() uint32 { return d.fundsAvailable }

// PaymentMediaID returns the payment media identifier reported by the
// most recent L2+ BEGIN_SESSION event.
func (d *Device) PaymentMediaID() [4]byte { return d.paymentMediaID }
