package host

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/avrkit/canboot"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRig(t *testing.T, info BoardInfo) (*Client, *SimBoard, func()) {
	t.Helper()
	lb := canboot.NewLoopbackBus()
	board := NewSimBoard(lb.Open(), 0x12, info)
	hostBus := lb.Open()
	mux := canboot.NewMux(hostBus)
	client := NewClient(hostBus, mux, 0x12, testLogger())
	cleanup := func() {
		mux.Close()
		board.Close()
		lb.Close()
	}
	return client, board, cleanup
}

func TestClient_Identify(t *testing.T) {
	info := BoardInfo{BootloaderType: 2, Version: 3, PageSize: 128, Pages: 224}
	client, _, cleanup := newTestRig(t, info)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.Identify(ctx)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if got != info {
		t.Fatalf("board info: got %+v want %+v", got, info)
	}
	if client.Board() == nil || *client.Board() != info {
		t.Fatalf("cached board info mismatch")
	}
}

func TestClient_Identify_NoBoard(t *testing.T) {
	lb := canboot.NewLoopbackBus()
	defer lb.Close()
	hostBus := lb.Open()
	mux := canboot.NewMux(hostBus)
	defer mux.Close()
	client := NewClient(hostBus, mux, 0x12, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := client.Identify(ctx); err == nil {
		t.Fatalf("expected identify to fail without a board")
	}
}

func TestClient_Identify_WrongNumberResync(t *testing.T) {
	info := BoardInfo{BootloaderType: 1, Version: 1, PageSize: 32, Pages: 16}
	client, board, cleanup := newTestRig(t, info)
	defer cleanup()

	// The board is mid-session; the client must adopt its numbering.
	board.SetExpectedNumber(7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Identify(ctx); err != nil {
		t.Fatalf("identify after resync: %v", err)
	}
}

func TestClient_Program(t *testing.T) {
	info := BoardInfo{BootloaderType: 1, Version: 1, PageSize: 32, Pages: 16}
	client, board, cleanup := newTestRig(t, info)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 80 bytes: two full pages plus a padded third.
	image := make([]byte, 80)
	for i := range image {
		image[i] = byte(i)
	}

	var lastDone, lastTotal int
	if err := client.Program(ctx, image, func(done, total int) {
		lastDone, lastTotal = done, total
	}); err != nil {
		t.Fatalf("program: %v", err)
	}
	if lastDone != 3 || lastTotal != 3 {
		t.Fatalf("progress: got %d/%d want 3/3", lastDone, lastTotal)
	}

	if got := board.PageData(0); !bytes.Equal(got, image[0:32]) {
		t.Fatalf("page 0 mismatch:\ngot  %x\nwant %x", got, image[0:32])
	}
	if got := board.PageData(1); !bytes.Equal(got, image[32:64]) {
		t.Fatalf("page 1 mismatch:\ngot  %x\nwant %x", got, image[32:64])
	}
	want := make([]byte, 32)
	copy(want, image[64:80])
	for i := 16; i < 32; i++ {
		want[i] = 0xFF
	}
	if got := board.PageData(2); !bytes.Equal(got, want) {
		t.Fatalf("page 2 not padded with 0xFF:\ngot  %x\nwant %x", got, want)
	}
}

func TestClient_Program_BlockShrink(t *testing.T) {
	info := BoardInfo{BootloaderType: 1, Version: 1, PageSize: 32, Pages: 16}
	client, board, cleanup := newTestRig(t, info)
	defer cleanup()

	// The board only buffers two messages per block; the client starts with
	// a full block and must shrink until the board accepts.
	board.SetMaxBlock(2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	image := make([]byte, 32)
	for i := range image {
		image[i] = byte(0xA0 + i)
	}
	if err := client.Program(ctx, image, nil); err != nil {
		t.Fatalf("program with shrinking blocks: %v", err)
	}
	if got := board.PageData(0); !bytes.Equal(got, image) {
		t.Fatalf("page 0 mismatch after shrink:\ngot  %x\nwant %x", got, image)
	}
}

func TestClient_Program_ImageTooLarge(t *testing.T) {
	info := BoardInfo{BootloaderType: 1, Version: 1, PageSize: 32, Pages: 2}
	client, _, cleanup := newTestRig(t, info)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Program(ctx, make([]byte, 3*32), nil); err == nil {
		t.Fatalf("expected error for oversized image")
	}
}

func TestClient_StartApplication(t *testing.T) {
	info := BoardInfo{BootloaderType: 1, Version: 1, PageSize: 32, Pages: 16}
	client, board, cleanup := newTestRig(t, info)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.StartApplication(ctx); err != nil {
		t.Fatalf("start application: %v", err)
	}
	if !board.Started() {
		t.Fatalf("board did not start the application")
	}
}

func TestClient_ReadFuseBits(t *testing.T) {
	info := BoardInfo{BootloaderType: 1, Version: 1, PageSize: 32, Pages: 16}
	client, _, cleanup := newTestRig(t, info)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fuses, err := client.ReadFuseBits(ctx)
	if err != nil {
		t.Fatalf("read fuses: %v", err)
	}
	if len(fuses) != 4 || fuses[0] != 0x62 {
		t.Fatalf("fuses: %x", fuses)
	}
}
