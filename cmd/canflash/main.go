// Command canflash programs an AVR board over the CAN bootloader protocol.
//
// It speaks through SocketCAN, an SLCAN serial adapter, or an in-process
// simulated board (for trying the tool without hardware), and optionally
// records every programming session to a local SQLite database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/avrkit/canboot"
	"github.com/avrkit/canboot/host"
	"github.com/avrkit/canboot/internal/config"
	"github.com/avrkit/canboot/internal/history"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML configuration file")
		transport  = flag.String("transport", "", "Transport: socketcan, slcan or sim")
		iface      = flag.String("interface", "", "SocketCAN interface name")
		bringUp    = flag.Bool("up", false, "Bring the SocketCAN interface up before dialing")
		port       = flag.String("port", "", "SLCAN serial device")
		baud       = flag.Int("baud", 0, "SLCAN serial baud rate")
		bitrate    = flag.Uint("bitrate", 0, "CAN bitrate for SLCAN adapter setup")
		boardID    = flag.Uint("board", 0, "Board identifier to program")
		imagePath  = flag.String("image", "", "Raw firmware image to flash")
		historyDB  = flag.String("history", "", "SQLite file for session history")
		logLevel   = flag.String("log-level", "", "Log level (debug|info|warn|error)")
		logFrames  = flag.Bool("log-frames", false, "Log every CAN frame sent and received")
		start      = flag.Bool("start", true, "Start the application after flashing")
		erase      = flag.Bool("erase", false, "Erase the chip before flashing")
		fuses      = flag.Bool("fuses", false, "Read and print the fuse bits, then exit")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "canflash: %v\n", err)
			os.Exit(1)
		}
	}
	// Flags override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = *transport
		case "interface":
			cfg.Interface = *iface
		case "port":
			cfg.Port = *port
		case "baud":
			cfg.Baud = *baud
		case "bitrate":
			cfg.Bitrate = uint32(*bitrate)
		case "board":
			cfg.BoardID = uint8(*boardID)
		case "history":
			cfg.History = *historyDB
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-frames":
			cfg.LogFrames = *logFrames
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "canflash: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg, *imagePath, *bringUp, *start, *erase, *fuses, logger); err != nil {
		logger.Error("canflash failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, imagePath string, bringUp, start, erase, fuses bool, logger *slog.Logger) error {
	bus, cleanup, err := openBus(cfg, bringUp, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.LogFrames {
		bus = canboot.NewLoggedBusWithFilter(bus, logger, slog.LevelDebug, canboot.LogAll, canboot.BootloaderOnly())
	}

	mux := canboot.NewMux(bus)
	defer mux.Close()
	client := host.NewClient(bus, mux, cfg.BoardID, logger)

	info, err := client.Identify(ctx)
	if err != nil {
		return fmt.Errorf("identify board 0x%x: %w", cfg.BoardID, err)
	}
	fmt.Printf("board 0x%x: %s\n", cfg.BoardID, info)

	if fuses {
		bits, err := client.ReadFuseBits(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("fuse bits: % X\n", bits)
		return nil
	}

	if imagePath == "" {
		return fmt.Errorf("no image given (use -image)")
	}
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}

	if erase {
		if err := client.ChipErase(ctx); err != nil {
			return err
		}
	}

	began := time.Now()
	err = client.Program(ctx, image, func(done, total int) {
		fmt.Printf("\rpage %d/%d", done, total)
		if done == total {
			fmt.Println()
		}
	})
	recordSession(cfg, image, info, time.Since(began), err, logger)
	if err != nil {
		return err
	}

	if start {
		if err := client.StartApplication(ctx); err != nil {
			return err
		}
	}
	fmt.Printf("done in %.2f seconds\n", time.Since(began).Seconds())
	return nil
}

func recordSession(cfg config.Config, image []byte, info host.BoardInfo, took time.Duration, perr error, logger *slog.Logger) {
	if cfg.History == "" {
		return
	}
	store, err := history.Open(cfg.History)
	if err != nil {
		logger.Warn("history database unavailable", "path", cfg.History, "error", err)
		return
	}
	defer store.Close()
	result := "ok"
	if perr != nil {
		result = perr.Error()
	}
	sess := &history.Session{
		BoardID:   cfg.BoardID,
		ImageSize: len(image),
		Pages:     (len(image) + info.PageSize - 1) / info.PageSize,
		Duration:  took,
		Result:    result,
	}
	if err := store.Record(sess); err != nil {
		logger.Warn("could not record session", "error", err)
	}
}
