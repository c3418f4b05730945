// Package slcan implements a canboot.Bus over the serial-line CAN (SLCAN)
// ASCII protocol spoken by CANable-style USB adapters.
package slcan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/avrkit/canboot"
)

// EncodeFrame converts a CAN frame into the ASCII SLCAN command, including
// the trailing carriage return.
func EncodeFrame(f canboot.Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	switch {
	case f.RTR && f.Extended:
		b.WriteByte('R')
	case f.RTR:
		b.WriteByte('r')
	case f.Extended:
		b.WriteByte('T')
	default:
		b.WriteByte('t')
	}

	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}

	b.WriteByte('0' + f.Len)

	if !f.RTR {
		for i := uint8(0); i < f.Len; i++ {
			fmt.Fprintf(&b, "%02X", f.Data[i])
		}
	}

	b.WriteByte('\r')
	return b.String(), nil
}

// DecodeFrame parses one SLCAN frame line (without the trailing carriage
// return).
func DecodeFrame(line string) (canboot.Frame, error) {
	if line == "" {
		return canboot.Frame{}, fmt.Errorf("slcan: empty line")
	}
	var f canboot.Frame
	switch line[0] {
	case 't':
	case 'T':
		f.Extended = true
	case 'r':
		f.RTR = true
	case 'R':
		f.Extended = true
		f.RTR = true
	default:
		return canboot.Frame{}, fmt.Errorf("slcan: unknown frame type %q", line[0])
	}

	idLen := 3
	if f.Extended {
		idLen = 8
	}
	if len(line) < 1+idLen+1 {
		return canboot.Frame{}, fmt.Errorf("slcan: truncated frame %q", line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return canboot.Frame{}, fmt.Errorf("slcan: bad identifier in %q: %w", line, err)
	}
	f.ID = uint32(id)

	dlc := line[1+idLen] - '0'
	if dlc > 8 {
		return canboot.Frame{}, fmt.Errorf("slcan: bad DLC in %q", line)
	}
	f.Len = dlc

	if !f.RTR {
		hex := line[1+idLen+1:]
		if len(hex) < int(dlc)*2 {
			return canboot.Frame{}, fmt.Errorf("slcan: short data in %q", line)
		}
		for i := uint8(0); i < dlc; i++ {
			b, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
			if err != nil {
				return canboot.Frame{}, fmt.Errorf("slcan: bad data in %q: %w", line, err)
			}
			f.Data[i] = byte(b)
		}
	}
	return f, f.Validate()
}

// bitrateCode maps a nominal bitrate to the adapter's Sn setup command code.
func bitrateCode(bitrate uint32) (byte, bool) {
	codes := map[uint32]byte{
		10000:   '0',
		20000:   '1',
		50000:   '2',
		100000:  '3',
		125000:  '4',
		250000:  '5',
		500000:  '6',
		800000:  '7',
		1000000: '8',
	}
	c, ok := codes[bitrate]
	return c, ok
}
