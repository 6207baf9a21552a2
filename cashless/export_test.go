// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cashless

import (
	"github.com/sirupsen/logrus"

	"github.com/davidmpye/mdb/mdb"
)

// NewForTest builds a Device at the given state without running the
// discovery sequence, so tests can drive Poll/Vend* directly against a
// scripted transport.
func NewForTest(link *mdb.Mdb, log *logrus.Logger, level Level, state SessionState) *Device {
	if log == nil {
		log = link.Logger()
	}
	return &Device{link: link, log: log, Level: level, state: state}
}

// DecodePeripheralIDForTest exercises the unexported PERIPHERAL_ID payload
// decode directly, without running a full poll exchange.
func (d *Device) DecodePeripheralIDForTest(data []byte) {
	d.decodePeripheralID(data)
}
