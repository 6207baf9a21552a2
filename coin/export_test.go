// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package coin

import (
	"github.com/sirupsen/logrus"

	"github.com/davidmpye/mdb/mdb"
)

// NewForTest builds an Acceptor without running the SETUP discovery
// sequence, so tests can populate Slots directly and exercise Poll,
// Payout, and Diagnostics against a scripted transport.
func NewForTest(link *mdb.Mdb, log *logrus.Logger) *Acceptor {
	if log == nil {
		log = link.Logger()
	}
	return &Acceptor{link: link, log: log, FeatureLevel: Level2}
}
