package slcan

import (
	"bufio"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/avrkit/canboot"
)

// Config describes the serial adapter connection.
type Config struct {
	Port    string // serial device, e.g. /dev/ttyACM0
	Baud    int    // serial baud rate; 0 means 115200
	Bitrate uint32 // CAN bitrate announced to the adapter; 0 skips setup
}

// Dial opens the serial port, configures the adapter's CAN bitrate and opens
// the channel. The returned Bus is safe for one concurrent sender and one
// concurrent receiver.
func Dial(cfg Config) (canboot.Bus, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("slcan: open %s: %w", cfg.Port, err)
	}
	b := &bus{port: port, r: bufio.NewReader(port)}

	// Close a possibly open channel, set the bitrate, reopen.
	if err := b.command("C"); err != nil {
		port.Close()
		return nil, err
	}
	if cfg.Bitrate != 0 {
		code, ok := bitrateCode(cfg.Bitrate)
		if !ok {
			port.Close()
			return nil, fmt.Errorf("slcan: unsupported bitrate %d", cfg.Bitrate)
		}
		if err := b.command("S" + string(code)); err != nil {
			port.Close()
			return nil, err
		}
	}
	if err := b.command("O"); err != nil {
		port.Close()
		return nil, err
	}
	return b, nil
}

type bus struct {
	port serial.Port
	r    *bufio.Reader

	wmu    sync.Mutex
	cmu    sync.Mutex
	closed bool
}

func (b *bus) command(cmd string) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	_, err := b.port.Write([]byte(cmd + "\r"))
	return err
}

// Send encodes and writes one frame.
func (b *bus) Send(frame canboot.Frame) error {
	if b.isClosed() {
		return canboot.ErrClosed
	}
	line, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, err := b.port.Write([]byte(line)); err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	return nil
}

// Receive reads lines until one carries a frame. Command acknowledgements
// and error bells from the adapter are skipped.
func (b *bus) Receive() (canboot.Frame, error) {
	for {
		if b.isClosed() {
			return canboot.Frame{}, canboot.ErrClosed
		}
		line, err := b.r.ReadString('\r')
		if err != nil {
			if b.isClosed() {
				return canboot.Frame{}, canboot.ErrClosed
			}
			return canboot.Frame{}, fmt.Errorf("slcan: read: %w", err)
		}
		line = trim(line)
		if line == "" {
			continue
		}
		switch line[0] {
		case 't', 'T', 'r', 'R':
			return DecodeFrame(line)
		default:
			// Acknowledge ("\r"), error bell (0x07) or status chatter.
			continue
		}
	}
}

// Close shuts the CAN channel and releases the port.
func (b *bus) Close() error {
	b.cmu.Lock()
	if b.closed {
		b.cmu.Unlock()
		return nil
	}
	b.closed = true
	b.cmu.Unlock()
	_ = b.command("C")
	return b.port.Close()
}

func (b *bus) isClosed() bool {
	b.cmu.Lock()
	defer b.cmu.Unlock()
	return b.closed
}

// trim strips the terminator plus any stray control bytes around the line.
func trim(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\r' || line[len(line)-1] == '\n' || line[len(line)-1] == 0x07) {
		line = line[:len(line)-1]
	}
	for len(line) > 0 && (line[0] == '\n' || line[0] == 0x07) {
		line = line[1:]
	}
	return line
}
