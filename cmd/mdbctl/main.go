// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// mdbctl drives one MDB bus over a host UART: it initializes whichever
// of a coin acceptor and a cashless device answer their SETUP exchange,
// then polls both in turn, logging every event.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/mdb/bus"
	"github.com/davidmpye/mdb/cashless"
	"github.com/davidmpye/mdb/clock"
	"github.com/davidmpye/mdb/coin"
	"github.com/davidmpye/mdb/config"
	"github.com/davidmpye/mdb/mdb"
	"github.com/davidmpye/mdb/transport/hostuart"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (see config.Default for fallbacks)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mdbctl: failed to load %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log := logrus.New()
	log.SetLevel(cfg.ParseLogLevel())

	uart, err := hostuart.Open(cfg.Device)
	if err != nil {
		log.WithError(err).Fatal("mdbctl: failed to open UART")
	}
	defer uart.Close()

	link := mdb.New(uart, clock.NewSystem(), log)

	var peripherals []bus.Peripheral

	changer := coin.Init(link, log)
	if changer == nil {
		log.Warn("mdbctl: no coin acceptor answered SETUP")
	} else {
		if err := changer.EnableCoins(cfg.AcceptCoins); err != nil {
			log.WithError(err).Warn("mdbctl: failed to enable coin acceptance")
		}
		peripherals = append(peripherals, bus.WrapCoin(changer))
	}

	reader := cashless.Init(link, log, cfg.MaxPrice, cfg.MinPrice)
	if reader == nil {
		log.Warn("mdbctl: no cashless reader answered SETUP")
	} else {
		peripherals = append(peripherals, bus.WrapCashless(reader))
	}

	if len(peripherals) == 0 {
		log.Fatal("mdbctl: no peripherals found on the bus")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	poller := bus.NewPoller(cfg.PollRateHz, peripherals...)
	log.WithField("rate_hz", cfg.PollRateHz).Info("mdbctl: polling")

	err = poller.Run(ctx, func(ev bus.Events) {
		log.WithFields(logrus.Fields{
			"peripheral": ev.Peripheral,
			"events":     len(ev.Events),
		}).Info("mdbctl: poll cycle")
		for _, e := range ev.Events {
			log.WithField("event", e).Debug("mdbctl: decoded event")
		}
	})
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("mdbctl: poll loop exited")
	}
}
