// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cashless_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmpye/mdb/cashless"
	"github.com/davidmpye/mdb/clock"
	"github.com/davidmpye/mdb/mdb"
	"github.com/davidmpye/mdb/transport/mock"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// Init runs the full discovery sequence and negotiates the lower of the
// VMC's and the reader's feature level.
func TestInitDiscoversL3Reader(t *testing.T) {
	tr := &mock.Transport{}
	tr.QueueStatus(0x00)              // RESET: ignored by this driver
	tr.QueueData([]byte{0x00})        // poll: JUST_RESET
	tr.QueueData([]byte{
		0x03, 0x00, 0x01, 0x01, 0x02, 0x0A, 0x00, 0x00, // CONFIG_DATA: level3, country 0x0001, scale1, decimals2, respTime 0x0A, options 0
	})
	tr.QueueStatus(0x00)  // MAX_MIN_PRICES ack
	tr.QueueStatus(0x00)  // READER ENABLE ack
	idBody := append([]byte{0x09}, make([]byte, 33)...) // PERIPHERAL_ID, all zero identity
	tr.QueueData(idBody)

	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.Init(link, nil, 500, 5)
	require.NotNil(t, d)

	assert.Equal(t, cashless.Level3, d.Level)
	assert.Equal(t, [2]byte{0x00, 0x01}, d.CountryCode)
	assert.Equal(t, byte(1), d.ScalingFactor)
	assert.Equal(t, byte(2), d.DecimalPlaces)
	assert.Equal(t, cashless.StateEnabled, d.State())
}

func TestInitAbortsOnWrongConfigDataLength(t *testing.T) {
	tr := &mock.Transport{}
	tr.QueueStatus(0x00)
	tr.QueueData([]byte{0x00})
	tr.QueueData([]byte{0x03, 0x00}) // far too short

	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.Init(link, nil, 500, 5)
	assert.Nil(t, d)
}

// S5: an L2+ BEGIN_SESSION poll reply (10 bytes) decodes to one
// BeginSession event carrying funds available and payment media ID.
func TestPollDecodesBeginSessionL2(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateEnabled)

	tr.QueueData([]byte{
		0x03,                   // BEGIN_SESSION opcode
		0x00, 0x00, 0x01, 0x90, // funds available = 400
		0xAA, 0xBB, 0xCC, 0xDD, // payment media ID
		0x00,                   // reserved trailing byte
	})

	events := d.Poll()
	require.Len(t, events, 1)
	assert.Equal(t, cashless.EventBeginSession, events[0].Kind)
	assert.Equal(t, uint32(400), events[0].BeginSession.FundsAvailable)
	assert.Equal(t, [4]byte{0xAA, 0xBB, 0xCC, 0xDD}, events[0].BeginSession.PaymentMediaID)
	assert.Equal(t, cashless.StateSessionIdle, d.State())
}

func TestPollDecodesBeginSessionL1(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level1, cashless.StateEnabled)

	tr.QueueData([]byte{0x03, 0x00, 0x64}) // funds available = 100, no payment media ID at L1

	events := d.Poll()
	require.Len(t, events, 1)
	assert.Equal(t, uint32(100), events[0].BeginSession.FundsAvailable)
}

// P6: a VEND_APPROVED event is dropped outside Vending and returned
// while inside it.
func TestVendApprovedDroppedOutsideVending(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateSessionIdle)

	tr.QueueData([]byte{0x05, 0x01, 0x90}) // VEND_APPROVED, value 0x0190

	events := d.Poll()
	assert.Empty(t, events, "VEND_APPROVED must be dropped outside Vending")
}

func TestVendApprovedDeliveredDuringVending(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateVending)

	tr.QueueData([]byte{0x05, 0x01, 0x90})

	events := d.Poll()
	require.Len(t, events, 1)
	assert.Equal(t, cashless.EventVendApproved, events[0].Kind)
	assert.Equal(t, uint16(0x0190), events[0].VendApproved.Value)
}

func TestPollUnknownOpcodeStopsDecodingRemainder(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateEnabled)

	// 0x06 = VEND_DENIED (1 byte), then 0x0C is not a recognized opcode.
	tr.QueueData([]byte{0x06, 0x0C, 0x00})

	events := d.Poll()
	require.Len(t, events, 1)
	assert.Equal(t, cashless.EventVendDenied, events[0].Kind)
}

func TestRequestVendTransitionsToVending(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateSessionIdle)

	tr.QueueStatus(0x00) // VEND_REQUEST ack

	require.NoError(t, d.RequestVend(150, 1))
	assert.Equal(t, cashless.StateVending, d.State())

	require.Len(t, tr.Sent, 1)
	assert.Equal(t, []byte{0x13, 0x00, 0x00, 0x96, 0x00, 0x01, 0xAA}, tr.Sent[0].Payload) // 0xAA = checksum
}

func TestRequestVendRejectedOutsideSessionIdle(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateEnabled)

	err := d.RequestVend(150, 1)
	assert.Error(t, err)
	assert.Empty(t, tr.Sent, "no command should be transmitted from the wrong state")
}

func TestVendSuccessReturnsToSessionIdle(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateVending)

	tr.QueueStatus(0x00)
	require.NoError(t, d.VendSuccess())
	assert.Equal(t, cashless.StateSessionIdle, d.State())
}

func TestEndSessionPollSendsSessionComplete(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateSessionIdle)

	tr.QueueData([]byte{0x07})  // END_SESSION
	tr.QueueStatus(0x00)        // SESSION_COMPLETE ack

	events := d.Poll()
	require.Len(t, events, 1)
	assert.Equal(t, cashless.EventEndSession, events[0].Kind)
	assert.Equal(t, cashless.StateEnabled, d.State())

	require.Len(t, tr.Sent, 3, "poll command, the master's own data-frame ack, then session complete")
	assert.Equal(t, []byte{0x00}, tr.Sent[1].Payload)
	assert.Equal(t, []byte{0x13, 0x04, 0x17}, tr.Sent[2].Payload) // 0x17 = checksum
}

// Identity field widths are 2/11/11/2 (manufacturer/serial/model/software
// version), not the 3/12/12/2 of the coin acceptor's L3 IDENT reply - the
// two entities report different-sized identity blocks.
func TestDecodePeripheralIDFieldWidths(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level3, cashless.StateEnabled)

	data := make([]byte, 33)
	copy(data[0:2], []byte{0x01, 0x02})               // manufacturer
	copy(data[2:13], []byte("ABCDEFGHIJK"))           // serial, 11 bytes
	copy(data[13:24], []byte("LMNOPQRSTUV"))          // model, 11 bytes
	copy(data[24:26], []byte{0x05, 0x06})             // software version
	copy(data[26:29], []byte{0xEE, 0xEE, 0xEE})       // reserved
	copy(data[29:33], []byte{0x00, 0x00, 0x00, 0x03}) // option flags

	d.DecodePeripheralIDForTest(data)

	id := d.ID
	assert.Equal(t, [2]byte{0x01, 0x02}, id.Manufacturer)
	assert.Equal(t, [11]byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K'}, id.Serial)
	assert.Equal(t, [11]byte{'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V'}, id.Model)
	assert.Equal(t, [2]byte{0x05, 0x06}, id.SoftwareVersion)
	assert.Equal(t, uint32(3), id.OptionFlags)
}

func TestNegativeVendRequestTransitionsToVending(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateSessionIdle)

	tr.QueueStatus(0x00) // NEGATIVE_VEND_REQUEST ack

	require.NoError(t, d.NegativeVendRequest(50, 2))
	assert.Equal(t, cashless.StateVending, d.State())

	require.Len(t, tr.Sent, 1)
	assert.Equal(t, []byte{0x13, 0x06, 0x00, 0x32, 0x00, 0x02, 0x4D}, tr.Sent[0].Payload) // 0x4D = checksum
}

func TestNegativeVendRequestRejectedOutsideSessionIdle(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateEnabled)

	err := d.NegativeVendRequest(50, 2)
	assert.Error(t, err)
	assert.Empty(t, tr.Sent, "no command should be transmitted from the wrong state")
}

func TestReaderCancel(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateEnabled)

	tr.QueueStatus(0x00) // READER CANCEL ack

	require.NoError(t, d.ReaderCancel())
	require.Len(t, tr.Sent, 1)
	assert.Equal(t, []byte{0x14, 0x02, 0x16}, tr.Sent[0].Payload) // 0x16 = checksum
}

func TestDataEntryResponse(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateEnabled)

	tr.QueueStatus(0x00) // DATA_ENTRY_RESP ack

	require.NoError(t, d.DataEntryResponse([]byte{0x31, 0x32}))
	require.Len(t, tr.Sent, 1)
	assert.Equal(t, []byte{0x14, 0x03, 0x31, 0x32, 0x7A}, tr.Sent[0].Payload) // 0x7A = checksum
}

func TestRevalueRequest(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateSessionIdle)

	tr.QueueStatus(0x00) // REVALUE REQUEST ack

	require.NoError(t, d.RevalueRequest(250))
	require.Len(t, tr.Sent, 1)
	assert.Equal(t, []byte{0x15, 0x00, 0x00, 0xFA, 0x0F}, tr.Sent[0].Payload) // 0x0F = checksum
}

func TestRevalueLimitRequest(t *testing.T) {
	tr := &mock.Transport{}
	link := mdb.New(tr, &clock.Mock{}, quietLogger())
	d := cashless.NewForTest(link, quietLogger(), cashless.Level2, cashless.StateSessionIdle)

	tr.QueueStatus(0x00) // REVALUE LIMIT_REQUEST ack

	require.NoError(t, d.RevalueLimitRequest())
	require.Len(t, tr.Sent, 1)
	assert.Equal(t, []byte{0x15, 0x01, 0x16}, tr.Sent[0].Payload) // 0x16 = checksum
}
