package main

import (
	"fmt"
	"log/slog"

	"github.com/avrkit/canboot"
	"github.com/avrkit/canboot/host"
	"github.com/avrkit/canboot/internal/config"
	"github.com/avrkit/canboot/slcan"
)

// openBus dials the configured transport. The returned cleanup also tears
// down any transport-owned helpers (the simulated board, for instance).
func openBus(cfg config.Config, bringUp bool, logger *slog.Logger) (canboot.Bus, func(), error) {
	switch cfg.Transport {
	case config.TransportSocketCAN:
		bus, err := dialSocketCAN(cfg.Interface, bringUp)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { bus.Close() }, nil

	case config.TransportSLCAN:
		bus, err := slcan.Dial(slcan.Config{Port: cfg.Port, Baud: cfg.Baud, Bitrate: cfg.Bitrate})
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { bus.Close() }, nil

	case config.TransportSim:
		lb := canboot.NewLoopbackBus()
		board := host.NewSimBoard(lb.Open(), cfg.BoardID, host.BoardInfo{
			BootloaderType: 1,
			Version:        1,
			PageSize:       256,
			Pages:          224,
		})
		logger.Info("using simulated board", "board", cfg.BoardID)
		bus := lb.Open()
		return bus, func() {
			board.Close()
			bus.Close()
			lb.Close()
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
