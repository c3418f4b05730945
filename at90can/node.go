package at90can

import "github.com/avrkit/canboot"

// Node bundles a simulated controller with its transmitter, wired the way
// the firmware wires them: the completion interrupt reclaims the mailbox.
// The host client tests and the canflash sim transport talk to one of these
// over a loopback bus.
type Node struct {
	Tx         *Transmitter
	Controller *Controller
}

// NewNode creates a ready-wired simulated node transmitting on bus.
func NewNode(bus canboot.Bus, boardID uint8) *Node {
	c := NewController(bus)
	t := NewTransmitter(c, boardID)
	c.OnComplete(func(uint8) { t.Reclaim() })
	return &Node{Tx: t, Controller: c}
}
