//go:build !linux

package main

import (
	"fmt"

	"github.com/avrkit/canboot"
)

func dialSocketCAN(string, bool) (canboot.Bus, error) {
	return nil, fmt.Errorf("socketcan transport requires linux")
}
