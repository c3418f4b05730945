//go:build linux

package canboot

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Linux network interface helpers for bringing a CAN interface up or down
// before dialing it. Requires CAP_NET_ADMIN; without it the ioctls return
// EPERM.

func withIfreqSocket(name string, fn func(fd int, ifr *unix.Ifreq) error) error {
	if name == "" {
		return fmt.Errorf("canboot: empty interface name")
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("canboot: invalid interface name %q: %w", name, err)
	}
	return fn(fd, ifr)
}

// InterfaceIsUp reports whether the named interface has IFF_UP set.
func InterfaceIsUp(name string) (bool, error) {
	var up bool
	err := withIfreqSocket(name, func(fd int, ifr *unix.Ifreq) error {
		if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
			return err
		}
		up = ifr.Uint16()&unix.IFF_UP != 0
		return nil
	})
	return up, err
}

// InterfaceUp sets IFF_UP on the named interface.
func InterfaceUp(name string) error {
	return setInterfaceUp(name, true)
}

// InterfaceDown clears IFF_UP on the named interface.
func InterfaceDown(name string) error {
	return setInterfaceUp(name, false)
}

func setInterfaceUp(name string, up bool) error {
	return withIfreqSocket(name, func(fd int, ifr *unix.Ifreq) error {
		if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
			return err
		}
		flags := ifr.Uint16()
		if up {
			flags |= unix.IFF_UP
		} else {
			flags &^= unix.IFF_UP
		}
		ifr.SetUint16(flags)
		return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
	})
}
