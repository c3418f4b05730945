package at90can

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/avrkit/canboot"
)

// ErrPayloadTooLong reports a payload that does not fit behind the 4-byte
// bootloader header within one CAN frame.
var ErrPayloadTooLong = errors.New("at90can: payload exceeds 4 bytes")

// Transmitter owns the transmit mailbox pool of one controller and builds
// outgoing bootloader frames.
//
// Shared-state discipline: the send side only claims mailboxes and
// decrements the free count; the completion side only returns mailboxes via
// Reclaim. The count is an atomic so the two directions need no common lock.
type Transmitter struct {
	regs    Registers
	boardID uint8

	// mu serializes senders; the scan-then-claim sequence below is not
	// atomic on its own.
	mu    sync.Mutex
	free  atomic.Int32
	freed chan struct{}

	number      uint8
	dataCounter uint8
}

// NewTransmitter creates a transmitter over the given register file with all
// transmit mailboxes idle. boardID is stamped into every outgoing frame.
func NewTransmitter(regs Registers, boardID uint8) *Transmitter {
	t := &Transmitter{
		regs:    regs,
		boardID: boardID,
		freed:   make(chan struct{}, 1),
	}
	t.free.Store(TxPoolSize)
	return t
}

// Free returns the current number of idle transmit mailboxes.
func (t *Transmitter) Free() int {
	return int(t.free.Load())
}

// Stage sets the message number and data counter carried by subsequent
// frames. The dispatcher owns both values; the transmitter never advances
// them on its own.
func (t *Transmitter) Stage(number, dataCounter uint8) {
	t.mu.Lock()
	t.number = number
	t.dataCounter = dataCounter
	t.mu.Unlock()
}

// Reclaim returns one transmitted mailbox to the free pool and wakes a
// blocked sender. It is the completion interrupt's half of the contract and
// must be called exactly once per reclaimed mailbox.
func (t *Transmitter) Reclaim() {
	t.free.Add(1)
	select {
	case t.freed <- struct{}{}:
	default:
	}
}

// Send claims an idle transmit mailbox, writes one bootloader frame into it
// and arms transmission. It returns once the mailbox is armed, not once the
// frame is on the wire.
//
// Send blocks while all mailboxes are in flight until Reclaim frees one or
// ctx is cancelled. Waiters are not served fairly; whichever sender runs
// next scans first. Payloads longer than 4 bytes are rejected with
// ErrPayloadTooLong.
func (t *Transmitter) Send(ctx context.Context, cmd canboot.Command, payload []byte) error {
	if len(payload) > canboot.MaxPayload {
		return ErrPayloadTooLong
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	mob, err := t.claim(ctx)
	if err != nil {
		return err
	}
	t.fill(mob, cmd, payload)
	return nil
}

// claim transitions the lowest idle mailbox to claimed and decrements the
// free count. Caller holds t.mu.
func (t *Transmitter) claim(ctx context.Context) (uint8, error) {
	for {
		if t.free.Load() > 0 {
			for mob := uint8(txMobFirst); mob < txMobFirst+txMobCount; mob++ {
				t.regs.SelectPage(mob)
				if t.regs.MobControl()&conMask != 0 {
					// Still in flight.
					continue
				}
				// Two-phase flag clear: the hardware requires a read of
				// CANSTMOB before the flags may be written back to zero.
				_ = t.regs.MobStatus()
				t.regs.SetMobStatus(0)
				t.free.Add(-1)
				return mob, nil
			}
		}
		select {
		case <-t.freed:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// fill writes identifier, header and payload into the claimed mailbox and
// arms it. Caller holds t.mu.
func (t *Transmitter) fill(mob uint8, cmd canboot.Command, payload []byte) {
	r := t.regs
	r.SelectPage(mob)

	// Standard-format identifier: bits 10..3 land in IDT1, bits 2..0 in the
	// top bits of IDT2. IDT3/IDT4 stay zero for 11-bit frames.
	const id = canboot.ResponseID
	r.WriteMobID(uint8(id>>3&0xFF), uint8(id<<5&0xFF), 0, 0)

	r.WriteData(t.boardID)
	r.WriteData(byte(cmd))
	r.WriteData(t.number)
	r.WriteData(t.dataCounter)
	for _, b := range payload {
		r.WriteData(b)
	}

	r.EnableTxInterrupt(mob)
	r.SetMobControl(ConMob0 | uint8(4+len(payload)))
}
