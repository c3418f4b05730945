package at90can

import (
	"fmt"
	"sync"

	"github.com/avrkit/canboot"
)

// Controller is an in-memory register file simulating the AT90CAN CAN
// controller closely enough for the transmit path: paged mailbox registers,
// arming via CONMOB0, per-mailbox completion interrupts.
//
// In the default mode a transmission completes as soon as it is armed: the
// frame is delivered to the attached bus, TXOK is set, the mailbox returns
// to idle and the completion hook runs, standing in for the interrupt
// handler. A manual-mode controller keeps armed mailboxes in flight until
// Complete is called, which is what the pool tests use to exercise blocked
// senders and non-contiguous free slots.
type Controller struct {
	mu     sync.Mutex
	page   uint8
	cursor int
	mobs   [mobCount]mobRegs
	bus    canboot.Bus
	onDone func(mob uint8)
	manual bool
}

type mobRegs struct {
	ctrl   uint8
	status uint8
	id     [4]uint8 // CANIDT1..CANIDT4
	data   [8]byte
	irq    bool
}

// NewController creates a simulated controller that completes transmissions
// immediately. bus receives every transmitted frame and may be nil.
func NewController(bus canboot.Bus) *Controller {
	return &Controller{bus: bus}
}

// NewManualController creates a simulated controller whose transmissions
// stay in flight until Complete is called.
func NewManualController(bus canboot.Bus) *Controller {
	return &Controller{bus: bus, manual: true}
}

// OnComplete registers the completion hook invoked after a mailbox finishes
// transmitting, provided its interrupt was enabled. It models the ISR and is
// where Transmitter.Reclaim belongs.
func (c *Controller) OnComplete(fn func(mob uint8)) {
	c.mu.Lock()
	c.onDone = fn
	c.mu.Unlock()
}

// SelectPage implements Registers.
func (c *Controller) SelectPage(mob uint8) {
	c.mu.Lock()
	c.page = mob % mobCount
	c.cursor = 0
	c.mu.Unlock()
}

// MobControl implements Registers.
func (c *Controller) MobControl() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mobs[c.page].ctrl
}

// SetMobControl implements Registers. Writing ConMob0 arms the selected
// mailbox for transmission.
func (c *Controller) SetMobControl(v uint8) {
	c.mu.Lock()
	mob := c.page
	c.mobs[mob].ctrl = v
	armed := v&ConMob0 != 0
	auto := !c.manual
	c.mu.Unlock()
	if armed && auto {
		c.finish(mob)
	}
}

// MobStatus implements Registers.
func (c *Controller) MobStatus() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mobs[c.page].status
}

// SetMobStatus implements Registers.
func (c *Controller) SetMobStatus(v uint8) {
	c.mu.Lock()
	c.mobs[c.page].status = v
	c.mu.Unlock()
}

// WriteMobID implements Registers.
func (c *Controller) WriteMobID(idt1, idt2, idt3, idt4 uint8) {
	c.mu.Lock()
	c.mobs[c.page].id = [4]uint8{idt1, idt2, idt3, idt4}
	c.mu.Unlock()
}

// WriteData implements Registers.
func (c *Controller) WriteData(b byte) {
	c.mu.Lock()
	m := &c.mobs[c.page]
	if c.cursor < len(m.data) {
		m.data[c.cursor] = b
		c.cursor++
	}
	c.mu.Unlock()
}

// EnableTxInterrupt implements Registers.
func (c *Controller) EnableTxInterrupt(mob uint8) {
	c.mu.Lock()
	c.mobs[mob%mobCount].irq = true
	c.mu.Unlock()
}

// InFlight reports whether the given mailbox is currently armed.
func (c *Controller) InFlight(mob uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mobs[mob%mobCount].ctrl&conMask != 0
}

// Complete finishes the transmission of an armed mailbox: the frame goes to
// the bus, TXOK is set, the mailbox returns to idle and the completion hook
// runs. Only meaningful on a manual-mode controller.
func (c *Controller) Complete(mob uint8) error {
	mob %= mobCount
	c.mu.Lock()
	if c.mobs[mob].ctrl&conMask == 0 {
		c.mu.Unlock()
		return fmt.Errorf("at90can: mailbox %d not in flight", mob)
	}
	c.mu.Unlock()
	return c.finish(mob)
}

func (c *Controller) finish(mob uint8) error {
	c.mu.Lock()
	m := &c.mobs[mob]
	f := c.frameOf(m)
	m.status |= StatusTxOK
	// The interrupt handler disables the mailbox, returning it to idle.
	m.ctrl &^= conMask
	bus := c.bus
	var done func(uint8)
	if m.irq {
		done = c.onDone
	}
	c.mu.Unlock()

	var err error
	if bus != nil {
		err = bus.Send(f)
	}
	if done != nil {
		done(mob)
	}
	return err
}

// frameOf reassembles the wire frame from the mailbox registers. Caller
// holds c.mu.
func (c *Controller) frameOf(m *mobRegs) canboot.Frame {
	var f canboot.Frame
	f.ID = uint32(m.id[0])<<3 | uint32(m.id[1])>>5
	f.Len = m.ctrl & DLCMask
	if f.Len > 8 {
		f.Len = 8
	}
	copy(f.Data[:], m.data[:f.Len])
	return f
}
