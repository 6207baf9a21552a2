// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cashless implements the MDB cashless payment device protocol,
// levels 1 through 3: device discovery, the enable/session/vend state
// machine, and poll-event decoding.
package cashless

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/mdb/mdb"
)

// Command group prefix bytes, per §4.3.
const (
	cmdReset   = 0x10
	cmdSetup   = 0x11
	cmdPoll    = 0x12
	cmdVend    = 0x13
	cmdReader  = 0x14
	cmdRevalue = 0x15
)

// SETUP subcommands.
const (
	setupConfigData   = 0x00
	setupMaxMinPrices = 0x01
)

// VEND subcommands.
const (
	vendRequest             = 0x00
	vendCancel              = 0x01
	vendSuccess             = 0x02
	vendFailure             = 0x03
	vendSessionComplete     = 0x04
	vendCashSale            = 0x05
	vendNegativeVendRequest = 0x06
)

// READER subcommands.
const (
	readerDisable       = 0x00
	readerEnable        = 0x01
	readerCancel        = 0x02
	readerDataEntryResp = 0x03
)

// REVALUE subcommands.
const (
	revalueRequest      = 0x00
	revalueLimitRequest = 0x01
)

// vmcFeatureLevel is the highest feature level this driver speaks; the
// negotiated Level is capped at min(vmcFeatureLevel, reported reader level).
const vmcFeatureLevel = 3

// resetSettleMs mirrors the coin acceptor's post-reset quiet time; the
// spec gives no cashless-specific figure so the same settle window is
// used before polling for JUST_RESET.
const resetSettleMs = 100

// Level is the negotiated cashless feature level.
type Level int

const (
	Level1 Level = 1
	Level2 Level = 2
	Level3 Level = 3
)

// PeripheralID holds the identity fields reported by a PERIPHERAL_ID poll
// event (Init's step 6).
type PeripheralID struct {
	Manufacturer    [2]byte
	Serial          [11]byte
	Model           [11]byte
	SoftwareVersion [2]byte
	OptionFlags     uint32 // L3 only, zero otherwise
}

// Device is one cashless device's persistent protocol state: identity,
// configuration, and the session state machine (see session.go).
type Device struct {
	link *mdb.Mdb
	log  *logrus.Logger

	Level         Level
	CountryCode   [2]byte
	ScalingFactor byte
	DecimalPlaces byte
	ResponseTimeS byte
	Options       byte
	MaxPrice      uint16
	MinPrice      uint16
	ID            PeripheralID

	state          SessionState
	fundsAvailable uint32
	paymentMediaID [4]byte
	vendPrice      uint16
	vendItem       uint16
}

// Init runs the discovery sequence: RESET, wait for JUST_RESET, negotiate
// feature level and identity via SETUP/CONFIG_DATA, send
// SETUP/MAX_MIN_PRICES, enable the reader, then poll for PERIPHERAL_ID. It
// returns nil if the reader never answers CONFIG_DATA with the expected
// 8-byte reply ("device absent").
func Init(link *mdb.Mdb, log *logrus.Logger, maxPrice, minPrice uint16) *Device {
	if log == nil {
		log = link.Logger()
	}
	d := &Device{link: link, log: log, state: StateInactive, MaxPrice: maxPrice, MinPrice: minPrice}

	link.Exchange([]byte{cmdReset}, nil)
	link.ClockSource().DelayMs(resetSettleMs)
	d.waitForJustReset()

	var buf [8]byte
	resp := link.Exchange([]byte{cmdSetup, setupConfigData, vmcFeatureLevel, 0x00, 0x00, 0x00}, buf[:])
	if !resp.IsData || len(resp.Data) != 8 {
		d.log.WithField("len", len(resp.Data)).Debug("cashless: CONFIG_DATA reply had unexpected length, treating device as absent")
		return nil
	}
	data := resp.Data

	readerLevel := Level(data[0])
	d.Level = readerLevel
	if d.Level > vmcFeatureLevel {
		d.Level = vmcFeatureLevel
	}
	d.CountryCode = [2]byte{data[1], data[2]}
	d.ScalingFactor = data[3]
	d.DecimalPlaces = data[4]
	d.ResponseTimeS = data[5]
	d.Options = data[6]
	// data[7] is reserved/manufacturer-specific and not interpreted.

	if !link.AckCycle([]byte{
		cmdSetup, setupMaxMinPrices,
		byte(maxPrice >> 8), byte(maxPrice),
		byte(minPrice >> 8), byte(minPrice),
	}) {
		d.log.Debug("cashless: MAX_MIN_PRICES was not acknowledged")
		return nil
	}

	if !link.AckCycle([]byte{cmdReader, readerEnable}) {
		d.log.Debug("cashless: READER ENABLE was not acknowledged")
		return nil
	}
	d.state = StateEnabled

	d.probePeripheralID()

	return d
}

// waitForJustReset polls once for the JUST_RESET event that must follow
// RESET before SETUP is sent. A reader that never answers simply means
// CONFIG_DATA will fail below; there is no separate timeout here beyond
// the link's own per-exchange timeout.
func (d *Device) waitForJustReset() {
	resp := d.link.Exchange([]byte{cmdPoll}, nil)
	if resp.IsData && len(resp.Data) > 0 && resp.Data[0] != opJustReset {
		d.log.WithField("opcode", resp.Data[0]).Debug("cashless: expected JUST_RESET after reset, got something else")
	}
}

func (d *Device) probePeripheralID() {
	var buf [34]byte
	resp := d.link.Exchange([]byte{cmdPoll}, buf[:])
	if !resp.IsData || len(resp.Data) == 0 || resp.Data[0] != opPeripheralID {
		d.log.Debug("cashless: PERIPHERAL_ID not reported on first poll after enable")
		return
	}
	d.decodePeripheralID(resp.Data[1:])
}

func (d *Device) decodePeripheralID(data []byte) {
	if len(data) != 29 && len(data) != 33 {
		d.log.WithField("len", len(data)).Debug("cashless: PERIPHERAL_ID payload had unexpected length")
		return
	}
	copy(d.ID.Manufacturer[:], data[0:2])
	copy(d.ID.Serial[:], data[2:13])
	copy(d.ID.Model[:], data[13:24])
	copy(d.ID.SoftwareVersion[:], data[24:26])
	// data[26:29] is reserved/manufacturer-specific and not interpreted.
	if len(data) == 33 {
		d.ID.OptionFlags = uint32(data[29])<<24 | uint32(data[30])<<16 | uint32(data[31])<<8 | uint32(data[32])
	}
}

// Disable sends READER DISABLE and moves the session state machine back
// to Inactive; the device must be re-enabled before it will report
// sessions again.
func (d *Device) Disable() error {
	if !d.link.AckCycle([]byte{cmdReader, readerDisable}) {
		return errors.New("cashless: READER DISABLE was not acknowledged")
	}
	d.state = StateInactive
	return nil
}

// Enable sends READER ENABLE; valid from Inactive.
func (d *Device) Enable() error {
	if !d.link.AckCycle([]byte{cmdReader, readerEnable}) {
		return errors.New("cashless: READER ENABLE was not acknowledged")
	}
	d.state = StateEnabled
	return nil
}

// State reports the session state machine's current state.
func (d *Device) State() SessionState { return d.state }
