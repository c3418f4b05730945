//go:build linux

package main

import (
	"github.com/avrkit/canboot"
)

func dialSocketCAN(iface string, bringUp bool) (canboot.Bus, error) {
	if bringUp {
		if err := canboot.InterfaceUp(iface); err != nil {
			return nil, err
		}
	}
	return canboot.DialSocketCAN(iface)
}
