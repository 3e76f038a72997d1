package core

import (
	"strings"
	"testing"
)

func TestUIDFragments(t *testing.T) {
	u := UID{0x00112233, 0x44556677, 0x8899AABB}

	want := []uint32{0x001122, 0x334455, 0x667788, 0x99AABB}
	for i, w := range want {
		if got := u.Fragment(i + 1); got != w {
			t.Errorf("Fragment(%d) = 0x%06x, want 0x%06x", i+1, got, w)
		}
	}
	if u.Fragment(0) != 0 || u.Fragment(5) != 0 {
		t.Error("out of range stages should return 0")
	}
}

func TestUIDReassembly(t *testing.T) {
	uids := []UID{
		{0x00112233, 0x44556677, 0x8899AABB},
		{0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF},
		{0x00000001, 0x00000000, 0x80000000},
		{0x12345678, 0x9ABCDEF0, 0x0FEDCBA9},
	}
	for _, u := range uids {
		var got UID
		for stage := 1; stage <= DetectStages; stage++ {
			got.SetFragment(stage, u.Fragment(stage))
		}
		if got != u {
			t.Errorf("reassembled %s, want %s", got, u)
		}
	}
}

func TestUIDSetFragmentIndependent(t *testing.T) {
	// Stages may overwrite one another's bits only where they own them
	var u UID
	u.SetFragment(3, 0xFFFFFF)
	u.SetFragment(1, 0xFFFFFF)
	if u != (UID{0xFFFFFF00, 0x0000FFFF, 0xFF000000}) {
		t.Errorf("unexpected words %08x %08x %08x", u[0], u[1], u[2])
	}
}

func TestUIDString(t *testing.T) {
	u := UID{0x00112233, 0x44556677, 0x8899AABB}
	if got := u.String(); got != "00112233445566778899aabb" {
		t.Errorf("String() = %q", got)
	}

	parsed, err := ParseUID("00:11:22:33:44:55:66:77:88:99:AA:BB")
	if err != nil {
		t.Fatalf("ParseUID failed: %v", err)
	}
	if parsed != u {
		t.Errorf("ParseUID = %s", parsed)
	}

	if _, err := ParseUID("0011"); err == nil || !strings.Contains(err.Error(), "bytes") {
		t.Errorf("expected length error, got %v", err)
	}
	if _, err := ParseUID("zz112233445566778899aabb"); err == nil {
		t.Error("expected hex error")
	}
	if !(UID{}).IsZero() || u.IsZero() {
		t.Error("IsZero mismatch")
	}
}
