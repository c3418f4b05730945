// Package canboot implements the CAN bus bootloader protocol used to flash
// AVR boards over a shared bus.
//
// It includes:
//   - A core Frame type with validation and binary marshaling helpers
//   - The bootloader message layer (11-bit IDs 0x7FF/0x7FE, 4-byte header)
//   - An in-memory loopback bus for tests and simulations
//   - A Linux SocketCAN driver and an SLCAN serial driver (subpackage slcan)
//
// The node-side transmit path (hardware mailbox pool and frame builder)
// lives in the at90can subpackage; the host-side flashing client lives in
// the host subpackage.
package canboot
