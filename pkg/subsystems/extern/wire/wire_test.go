package wire

import "testing"

func TestPackUnpack(t *testing.T) {
	cases := []struct {
		ptr    uint32
		length uint32
	}{
		{0, 0},
		{1, 0},
		{0x1000, 42},
		{0xFFFFFFFF, 0xFFFFFFFF},
	}
	for _, tc := range cases {
		packed := Pack(tc.ptr, tc.length)
		ptr, length := Unpack(packed)
		if ptr != tc.ptr || length != tc.length {
			t.Errorf("Pack(%#x, %#x) round-tripped to (%#x, %#x)", tc.ptr, tc.length, ptr, length)
		}
	}
}
