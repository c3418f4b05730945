//go:build linux

package canboot

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// socketCAN implements Bus over Linux SocketCAN.
type socketCAN struct {
	file   *os.File
	closed chan struct{}
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g. "can0").
func DialSocketCAN(iface string) (Bus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canboot: socket: %w", err)
	}
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canboot: bind %s: %w", iface, err)
	}
	// Non-blocking so the fd lands in the runtime poller and Close
	// interrupts a pending Receive.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "socketcan@"+iface)
	return &socketCAN{file: f, closed: make(chan struct{})}, nil
}

func (s *socketCAN) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	return s.file.Close()
}

// Send writes one frame using the Linux can_frame binary layout.
func (s *socketCAN) Send(frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := s.file.Write(buf); err != nil {
		select {
		case <-s.closed:
			return ErrClosed
		default:
		}
		return err
	}
	return nil
}

// Receive reads the next frame from the socket.
func (s *socketCAN) Receive() (Frame, error) {
	buf := make([]byte, 16)
	for {
		n, err := s.file.Read(buf)
		if err != nil {
			select {
			case <-s.closed:
				return Frame{}, ErrClosed
			default:
			}
			return Frame{}, err
		}
		if n < 16 {
			continue
		}
		var f Frame
		if err := f.UnmarshalBinary(buf); err != nil {
			// Malformed kernel frame; skip it.
			continue
		}
		return f, nil
	}
}
