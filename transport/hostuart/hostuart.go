// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux

// Package hostuart implements mdb.Transport over a Linux 8-bit UART
// device using the mark/space-parity trick: the bus's 9th (mode) bit is
// carried as the UART's parity bit, toggled between mark and space per
// byte, since the host UART itself has no 9-bit data mode.
package hostuart

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// UART drives one serial device file as an MDB transport.
type UART struct {
	f  *os.File
	fd int
}

// Open configures path (e.g. "/dev/ttyUSB0") for 9600 baud, 8 data bits,
// no conventional parity, and readies it for per-byte mark/space toggling
// via setMode before each WriteByte.
func Open(path string) (*UART, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS2)
	if err != nil {
		f.Close()
		return nil, err
	}

	t.Cflag &^= unix.CBAUD | unix.CSIZE | unix.PARENB | unix.PARODD
	t.Cflag |= unix.BOTHER | unix.CS8 | unix.CLOCAL | unix.CREAD | unix.CMSPAR
	t.Ispeed = 9600
	t.Ospeed = 9600
	t.Lflag = 0
	t.Iflag = 0
	t.Oflag = 0
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := setMode(fd, t, false); err != nil {
		f.Close()
		return nil, err
	}

	return &UART{f: f, fd: fd}, nil
}

// setMode applies t with the mode bit's parity configured: space parity
// (PARODD clear) encodes mode=false, mark parity (PARODD set) encodes
// mode=true, both with CMSPAR already set in Cflag so the parity bit is
// forced rather than computed from the data bits.
func setMode(fd int, t *unix.Termios2, mode bool) error {
	if mode {
		t.Cflag |= unix.PARENB | unix.PARODD
	} else {
		t.Cflag |= unix.PARENB
		t.Cflag &^= unix.PARODD
	}
	return unix.IoctlSetTermios2(fd, unix.TCSETS2, t)
}

// WriteByte transmits b with the UART's parity bit carrying mode.
func (u *UART) WriteByte(b byte, mode bool) error {
	t, err := unix.IoctlGetTermios(u.fd, unix.TCGETS2)
	if err != nil {
		return err
	}
	if err := setMode(u.fd, t, mode); err != nil {
		return err
	}
	_, err = u.f.Write([]byte{b})
	return err
}

// ReadByte returns the next byte; the mode bit is not recovered. This driver assumes
// PARMRK framing is not enabled, so distinguishing mark from space parity
// on read requires a board-specific UART extension not exercised by this
// reference implementation; ReadByte here always reports mode=false and
// exists primarily so UART satisfies mdb.Transport end to end over a
// loopback or a peripheral that never needs the master to address it.
func (u *UART) ReadByte() (byte, bool, bool, error) {
	var buf [1]byte
	n, err := u.f.Read(buf[:])
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, false, false, nil
		}
		return 0, false, false, err
	}
	if n == 0 {
		return 0, false, false, nil
	}
	return buf[0], false, true, nil
}

// Close releases the underlying file descriptor.
func (u *UART) Close() error {
	return u.f.Close()
}
