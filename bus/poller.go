// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bus provides the caller-facing poll loop that runs the coin
// acceptor and cashless device against one shared link. The bus is
// single-threaded (§5): a Poller owns the link for the lifetime of the
// loop and polls each peripheral in turn, rather than launching
// concurrent goroutines against it.
package bus

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/davidmpye/mdb/cashless"
	"github.com/davidmpye/mdb/coin"
)

// Peripheral is anything a Poller can cycle, returning the events observed
// this cycle. *coin.Acceptor and *cashless.Device are adapted to it by
// WrapCoin and WrapCashless.
type Peripheral interface {
	Poll() []interface{}
}

// coinPeripheral and cashlessPeripheral adapt the two concrete peripheral
// types' differently-typed Poll methods to the Peripheral interface,
// since Go does not let a slice element type vary covariantly.
type coinPeripheral struct{ a *coin.Acceptor }

func (p coinPeripheral) Poll() []interface{} {
	events := p.a.Poll()
	out := make([]interface{}, len(events))
	for i, e := range events {
		out[i] = e
	}
	return out
}

type cashlessPeripheral struct{ d *cashless.Device }

func (p cashlessPeripheral) Poll() []interface{} {
	events := p.d.Poll()
	out := make([]interface{}, len(events))
	for i, e := range events {
		out[i] = e
	}
	return out
}

// WrapCoin adapts a coin acceptor for use with a Poller.
func WrapCoin(a *coin.Acceptor) Peripheral { return coinPeripheral{a} }

// WrapCashless adapts a cashless device for use with a Poller.
func WrapCashless(d *cashless.Device) Peripheral { return cashlessPeripheral{d} }

// Poller rate-limits how often the bus is polled, so a caller's main loop
// doesn't have to hand-roll a ticker. The spec sets no mandated interval
// (§5's "Poll interval: caller's responsibility"); the limiter just turns
// a chosen rate into a blocking Wait.
type Poller struct {
	limiter     *rate.Limiter
	peripherals []Peripheral
}

// NewPoller builds a Poller that visits every peripheral in peripherals,
// in order, no more often than ratePerSecond times a second.
func NewPoller(ratePerSecond float64, peripherals ...Peripheral) *Poller {
	return &Poller{
		limiter:     rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		peripherals: peripherals,
	}
}

// Events is one peripheral's events from a single poll cycle.
type Events struct {
	Peripheral int
	Events     []interface{}
}

// Run blocks, polling every peripheral once per cycle and invoking handle
// with whatever events each one reported, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, handle func(Events)) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		for i, peripheral := range p.peripherals {
			events := peripheral.Poll()
			if len(events) == 0 {
				continue
			}
			handle(Events{Peripheral: i, Events: events})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Once runs a single poll cycle over every peripheral and returns
// whatever events were observed, without rate-limiting or blocking, for
// callers that want to drive the cycle themselves.
func Once(peripherals ...Peripheral) []Events {
	var out []Events
	for i, peripheral := range peripherals {
		events := peripheral.Poll()
		if len(events) == 0 {
			continue
		}
		out = append(out, Events{Peripheral: i, Events: events})
	}
	return out
}
