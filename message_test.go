package canboot

import (
	"bytes"
	"testing"
)

func TestCommand_Packing(t *testing.T) {
	cmd := MakeCommand(TypeSuccess, SubjectIdentify)
	if byte(cmd) != 0x41 {
		t.Fatalf("packed command: got 0x%02X want 0x41", byte(cmd))
	}
	if cmd.Type() != TypeSuccess || cmd.Subject() != SubjectIdentify {
		t.Fatalf("unpack: type=%v subject=%v", cmd.Type(), cmd.Subject())
	}
	if cmd.String() != "identify.success" {
		t.Fatalf("string: %q", cmd.String())
	}
}

func TestMessage_EncodeDecode_Roundtrip(t *testing.T) {
	cases := []Message{
		{BoardID: 0x12, Type: TypeRequest, Subject: SubjectIdentify, Number: 0, DataCounter: StartOfBlockMask, Data: []byte{}},
		{BoardID: 0x12, Type: TypeRequest, Subject: SubjectData, Number: 9, DataCounter: StartOfBlockMask | 31, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{BoardID: 0xFF, Type: TypeSuccess, Subject: SubjectSetAddress, Number: 255, DataCounter: 0, Data: []byte{0x01}},
		{BoardID: 0x01, Type: TypeWrongNumber, Subject: SubjectData, Number: 3, DataCounter: 0, Data: []byte{}},
	}
	for _, m := range cases {
		for _, id := range []uint32{RequestID, ResponseID} {
			f, err := m.Encode(id)
			if err != nil {
				t.Fatalf("encode %s: %v", m, err)
			}
			if f.ID != id || int(f.Len) != 4+len(m.Data) {
				t.Fatalf("frame: %s", f)
			}
			got, err := DecodeMessage(f)
			if err != nil {
				t.Fatalf("decode %s: %v", f, err)
			}
			if got.BoardID != m.BoardID || got.Type != m.Type || got.Subject != m.Subject ||
				got.Number != m.Number || got.DataCounter != m.DataCounter ||
				!bytes.Equal(got.Data, m.Data) {
				t.Fatalf("roundtrip mismatch: got %s want %s", got, m)
			}
		}
	}
}

func TestMessage_Encode_Rejects(t *testing.T) {
	m := Message{BoardID: 1, Subject: SubjectData, Data: []byte{1, 2, 3, 4, 5}}
	if _, err := m.Encode(RequestID); err == nil {
		t.Fatalf("expected error for 5-byte payload")
	}
	m.Data = nil
	if _, err := m.Encode(0x123); err == nil {
		t.Fatalf("expected error for non-bootloader identifier")
	}
}

func TestDecodeMessage_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
	}{
		{"short frame", Frame{ID: ResponseID, Len: 3}},
		{"foreign id", MustFrame(0x123, []byte{1, 2, 3, 4})},
		{"extended", Frame{ID: ResponseID, Extended: true, Len: 4}},
		{"rtr", Frame{ID: ResponseID, RTR: true, Len: 4}},
	}
	for _, tc := range cases {
		if _, err := DecodeMessage(tc.frame); err == nil {
			t.Fatalf("%s: expected decode error", tc.name)
		}
	}
}

func TestMessage_String(t *testing.T) {
	m := Message{BoardID: 0x12, Type: TypeRequest, Subject: SubjectData, Number: 0xA, DataCounter: 3, Data: []byte{0xAA, 0xBB}}
	want := "data.request id 0x12 [a] 3 > aa bb"
	if got := m.String(); got != want {
		t.Fatalf("string: got %q want %q", got, want)
	}
}
