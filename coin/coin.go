// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package coin implements the MDB coin acceptor/changer protocol, levels 2
// and 3: device discovery, coin-type table accounting, poll-event
// decoding, and payout.
package coin

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/mdb/mdb"
)

// Command bytes, per §4.2.
const (
	cmdReset      = 0x08
	cmdSetup      = 0x09
	cmdTubeStatus = 0x0A
	cmdPoll       = 0x0B
	cmdCoinType   = 0x0C
	cmdDispense   = 0x0D

	cmdL3Prefix = 0x0F
)

// L3 expansion subcommands, sent as cmdL3Prefix followed by one of these.
const (
	l3Ident            = 0x00
	l3FeatureEnable    = 0x01
	l3Payout           = 0x02
	l3PayoutStatus     = 0x03
	l3PayoutValuePoll  = 0x04
	l3Diagnostics      = 0x05
)

// resetSettleMs is how long the changer needs after RESET before it will
// answer SETUP.
const resetSettleMs = 100

// Level distinguishes the two feature levels this package implements.
type Level int

const (
	Level2 Level = 2
	Level3 Level = 3
)

// FeatureFlags are the four L3 optional features a changer may advertise
// via IDENT and that FEATURE_ENABLE may turn on, in IDENT's options-byte
// bit order (see SPEC_FULL.md's Supplemented Features section).
type FeatureFlags byte

const (
	FeatureAlternativePayout FeatureFlags = 1 << iota
	FeatureExtendedDiagnostics
	FeatureControlledManualFillAndPayout
	FeatureFTL
)

func (f FeatureFlags) Has(flag FeatureFlags) bool { return f&flag != 0 }

// L3Features holds the identity and capability fields an L3 changer
// reports via IDENT. It is nil on an Acceptor until a successful L3 probe.
type L3Features struct {
	Manufacturer    [3]byte
	Serial          [12]byte
	Model           [12]byte
	SoftwareVersion [2]byte
	Supported       FeatureFlags
	Enabled         FeatureFlags
}

// Slot is one coin-type table entry. Index i is I1-stable: it always
// refers to the i-th coin type as reported at SETUP, for the lifetime of
// the Acceptor.
type Slot struct {
	UnscaledValue uint16 // raw credit byte * scaling factor
	Routable      bool   // may this coin be routed to the tube
	TubeFull      bool
	NumCoins      byte
}

// Acceptor is one coin acceptor/changer's persistent protocol state.
type Acceptor struct {
	link *mdb.Mdb
	log  *logrus.Logger

	FeatureLevel   Level
	CountryCode    [2]byte
	ScalingFactor  byte
	DecimalPlaces  byte
	RoutingMask    uint16
	Slots          [16]*Slot
	L3             *L3Features
}

// Init resets the changer, reads its SETUP reply, populates the coin-type
// table, refreshes live tube counts, and - for an L3 changer - probes
// identity and enables the alternative-payout and extended-diagnostics
// features if supported. It returns nil if the device does not answer
// SETUP with the expected 23-byte reply ("device absent").
func Init(link *mdb.Mdb, log *logrus.Logger) *Acceptor {
	if log == nil {
		log = link.Logger()
	}
	a := &Acceptor{link: link, log: log}

	link.Exchange([]byte{cmdReset}, nil)
	link.ClockSource().DelayMs(resetSettleMs)

	var buf [23]byte
	resp := link.Exchange([]byte{cmdSetup}, buf[:])
	if !resp.IsData || len(resp.Data) != 23 {
		a.log.WithField("len", len(resp.Data)).Debug("coin: SETUP reply had unexpected length, treating device as absent")
		return nil
	}
	d := resp.Data

	switch d[0] {
	case 0x02:
		a.FeatureLevel = Level2
	case 0x03:
		a.FeatureLevel = Level3
	default:
		a.log.WithField("level", d[0]).Debug("coin: unknown feature level reported, assuming Level2")
		a.FeatureLevel = Level2
	}
	a.CountryCode = [2]byte{d[1], d[2]}
	a.ScalingFactor = d[3]
	a.DecimalPlaces = d[4]
	a.RoutingMask = uint16(d[5])<<8 | uint16(d[6])

	for i := 0; i < 16; i++ {
		credit := d[7+i]
		if credit == 0 {
			continue
		}
		a.Slots[i] = &Slot{
			UnscaledValue: uint16(credit) * uint16(a.ScalingFactor),
			Routable:      (a.RoutingMask>>uint(i))&1 != 0,
		}
	}

	a.refreshTubeStatus()

	if a.FeatureLevel == Level3 {
		a.probeL3()
	}

	return a
}

func (a *Acceptor) refreshTubeStatus() {
	var buf [18]byte
	resp := a.link.Exchange([]byte{cmdTubeStatus}, buf[:])
	if !resp.IsData || len(resp.Data) != 18 {
		a.log.WithField("len", len(resp.Data)).Debug("coin: TUBE_STATUS reply had unexpected length")
		return
	}
	d := resp.Data
	fullBitmap := uint16(d[0])<<8 | uint16(d[1])
	for i := 0; i < 16; i++ {
		slot := a.Slots[i]
		if slot == nil {
			continue
		}
		slot.TubeFull = (fullBitmap>>uint(i))&1 != 0
		slot.NumCoins = d[2+i]
	}
}

func (a *Acceptor) probeL3() {
	var buf [33]byte
	resp := a.link.Exchange([]byte{cmdL3Prefix, l3Ident}, buf[:])
	if !resp.IsData || len(resp.Data) != 33 {
		a.log.WithField("len", len(resp.Data)).Debug("coin: L3 IDENT reply had unexpected length")
		return
	}
	d := resp.Data
	features := &L3Features{
		Supported: FeatureFlags(d[32]),
	}
	copy(features.Manufacturer[:], d[0:3])
	copy(features.Serial[:], d[3:15])
	copy(features.Model[:], d[15:27])
	copy(features.SoftwareVersion[:], d[27:29])
	a.L3 = features

	// Enable at least alternative payout and extended diagnostics if the
	// changer supports them. FTL is never enabled: file transfer is an
	// explicit non-goal of this driver regardless of hardware support.
	toEnable := features.Supported & (FeatureAlternativePayout | FeatureExtendedDiagnostics)
	if a.link.AckCycle([]byte{cmdL3Prefix, l3FeatureEnable, 0x00, 0x00, 0x00, byte(toEnable)}) {
		features.Enabled = toEnable
	} else {
		a.log.Debug("coin: L3 FEATURE_ENABLE was not acknowledged")
	}
}

// EnableCoins sends COIN_TYPE with acceptMask governing which of the 16
// coin types may be accepted, always enabling manual dispense for every
// slot as the original driver does.
func (a *Acceptor) EnableCoins(acceptMask uint16) error {
	payload := []byte{
		cmdCoinType,
		byte(acceptMask & 0xFF),
		byte(acceptMask >> 8),
		0xFF,
		0xFF,
	}
	if !a.link.AckCycle(payload) {
		return errors.New("coin: COIN_TYPE was not acknowledged")
	}
	return nil
}
