package canboot

import (
	"context"
	"log/slog"
	"testing"
)

type recordSink struct {
	records []slog.Record
}

func (s *recordSink) Enabled(context.Context, slog.Level) bool { return true }
func (s *recordSink) Handle(_ context.Context, r slog.Record) error {
	// Deep copy the attributes because slog reuses the record during
	// processing.
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool { attrs = append(attrs, a); return true })
	nr := slog.Record{Time: r.Time, Level: r.Level, PC: r.PC, Message: r.Message}
	nr.AddAttrs(attrs...)
	s.records = append(s.records, nr)
	return nil
}
func (s *recordSink) WithAttrs(attrs []slog.Attr) slog.Handler { return s }
func (s *recordSink) WithGroup(name string) slog.Handler       { return s }

func hasSlogMsg(records []slog.Record, level slog.Level, msg string) bool {
	for _, r := range records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

func TestLoggedBus_WriteAndReadLogging(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	sink := &recordSink{}
	logger := slog.New(sink)

	sender := NewLoggedBus(lb.Open(), logger, slog.LevelInfo, LogWrite)
	receiver := NewLoggedBus(lb.Open(), logger, slog.LevelInfo, LogRead)
	defer sender.Close()
	defer receiver.Close()

	frame := MustFrame(ResponseID, []byte{0x12, 0x41, 0, 0})
	if err := sender.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := receiver.Receive(); err != nil {
		t.Fatalf("receive: %v", err)
	}

	if !hasSlogMsg(sink.records, slog.LevelInfo, "canboot send") {
		t.Fatalf("expected write log entry")
	}
	if !hasSlogMsg(sink.records, slog.LevelInfo, "canboot receive") {
		t.Fatalf("expected read log entry")
	}
}

func TestLoggedBus_FilteredLogging(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()
	rx := lb.Open()
	defer rx.Close()

	sink := &recordSink{}
	sender := NewLoggedBusWithFilter(lb.Open(), slog.New(sink), slog.LevelInfo, LogWrite, BootloaderOnly())
	defer sender.Close()

	if err := sender.Send(MustFrame(0x123, []byte{1})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sink.records) != 0 {
		t.Fatalf("non-bootloader frame was logged")
	}
	if err := sender.Send(MustFrame(RequestID, []byte{0x12, 1, 0, 0})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !hasSlogMsg(sink.records, slog.LevelInfo, "canboot send") {
		t.Fatalf("expected write log entry for bootloader frame")
	}
}

func TestLoggedBus_ErrorLogging(t *testing.T) {
	lb := NewLoopbackBus()
	rx := lb.Open()
	_ = rx.Close()

	sink := &recordSink{}
	wrapped := NewLoggedBus(rx, slog.New(sink), slog.LevelInfo, LogRead)
	_, _ = wrapped.Receive()

	if !hasSlogMsg(sink.records, slog.LevelError, "canboot receive error") {
		t.Fatalf("expected receive error log entry")
	}
}
