package canboot

import (
	"testing"
)

func TestFrame_Validate_Marshal_Unmarshal_String(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		wantStr string
		wantErr error
	}{
		{
			name:    "bootloader response frame",
			frame:   MustFrame(ResponseID, []byte{0x12, 0x41, 0x00, 0x00, 0xDE, 0xAD}),
			wantStr: "7FE [6] 12 41 00 00 DE AD",
			wantErr: nil,
		},
		{
			name:    "extended RTR, zero length",
			frame:   Frame{ID: 0x1ABCDEFF, Extended: true, RTR: true, Len: 0},
			wantStr: "1ABCDEFF [0] RTR",
			wantErr: nil,
		},
	}

	for _, tc := range cases {
		if got := tc.frame.Validate(); got != tc.wantErr {
			t.Fatalf("%s: Validate() error = %v, want %v", tc.name, got, tc.wantErr)
		}
		b, err := tc.frame.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: MarshalBinary() error = %v", tc.name, err)
		}
		var g Frame
		if err := g.UnmarshalBinary(b); err != nil {
			t.Fatalf("%s: UnmarshalBinary() error = %v", tc.name, err)
		}
		if g != tc.frame {
			t.Fatalf("%s: roundtrip mismatch: got %+v want %+v", tc.name, g, tc.frame)
		}
		if got := g.String(); got != tc.wantStr {
			t.Fatalf("%s: String() = %q, want %q", tc.name, got, tc.wantStr)
		}
	}

	// Invalid cases
	{
		f := Frame{ID: 0x800, Len: 0} // standard, out of range
		if err := f.Validate(); err == nil {
			t.Fatalf("expected invalid standard ID")
		}
	}
	{
		f := Frame{ID: 0x20000000, Extended: true}
		if err := f.Validate(); err == nil {
			t.Fatalf("expected invalid extended ID")
		}
	}
	{
		f := Frame{ID: 0x123, Len: 9}
		if err := f.Validate(); err != ErrInvalidLen {
			t.Fatalf("expected ErrInvalidLen, got %v", err)
		}
	}
}
