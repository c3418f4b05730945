// Package at90can implements the transmit path of the CAN bootloader as it
// runs on the AT90CAN family: a pool of hardware transmit mailboxes (MObs),
// free-slot accounting shared with the completion interrupt, and the frame
// builder that writes bootloader messages into the controller registers.
//
// The controller itself is reached through the Registers interface. A real
// port would back it with memory-mapped I/O; the in-memory Controller in
// this package backs it with a simulation good enough for the host-side
// tests and the canflash sim transport.
package at90can

// Mailbox layout. The bootloader reserves MObs 8..14 for transmission; the
// lower MObs belong to the receive path, which is outside this package.
const (
	mobCount   = 15
	txMobFirst = 8
	txMobCount = 7

	// TxPoolSize is the number of transmit mailboxes available to Send.
	TxPoolSize = txMobCount
)

// CANCDMOB bits: CONMOB1:0 select the mailbox operating mode (00 = disabled,
// 01 = enable transmission), DLC occupies the low nibble.
const (
	ConMob0 uint8 = 1 << 6
	ConMob1 uint8 = 1 << 7
	conMask uint8 = ConMob0 | ConMob1

	DLCMask uint8 = 0x0F
)

// CANSTMOB bits (the subset the transmit path observes).
const (
	StatusTxOK uint8 = 1 << 6
)

// Registers is the per-mailbox register file of the CAN controller. One
// physical register set is time-multiplexed across all mailboxes: SelectPage
// routes the Mob* accessors to the given mailbox, exactly like writing
// CANPAGE on the real part.
//
// Implementations are not required to be safe for concurrent use; the
// Transmitter serializes all access on the transmit side, and the receive
// path owns the lower mailboxes exclusively.
type Registers interface {
	// SelectPage selects the mailbox the other accessors operate on and
	// resets the data write cursor (CANPAGE).
	SelectPage(mob uint8)

	// MobControl reads the selected mailbox's control register (CANCDMOB).
	MobControl() uint8
	// SetMobControl writes the selected mailbox's control register. Writing
	// ConMob0 together with the data length arms transmission.
	SetMobControl(v uint8)

	// MobStatus reads the selected mailbox's status register (CANSTMOB).
	MobStatus() uint8
	// SetMobStatus writes the selected mailbox's status register. The
	// hardware requires a read before the flags may be written back to zero.
	SetMobStatus(v uint8)

	// WriteMobID writes the four identifier registers CANIDT1..CANIDT4.
	WriteMobID(idt1, idt2, idt3, idt4 uint8)

	// WriteData appends one byte to the selected mailbox's data field
	// (CANMSG with auto-increment).
	WriteData(b byte)

	// EnableTxInterrupt enables the completion interrupt for the given
	// mailbox (CANIE1).
	EnableTxInterrupt(mob uint8)
}
