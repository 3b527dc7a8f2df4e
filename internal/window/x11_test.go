package window

import "testing"

func TestParseWindowList(t *testing.T) {
	value := []byte{
		0x07, 0x00, 0xa0, 0x03,
		0x01, 0x00, 0x00, 0x00,
		0xff, // partial word
	}
	ids := ParseWindowList(value)
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if ids[0] != 0x03a00007 || ids[1] != 1 {
		t.Fatalf("unexpected ids %#x", ids)
	}
}

func TestParseWMClass(t *testing.T) {
	cases := map[string]string{
		"navigator\x00Firefox\x00": "Firefox",
		"xterm\x00\x00":            "xterm",
		"solo":                     "solo",
		"":                         "",
	}
	for in, want := range cases {
		if got := ParseWMClass(in); got != want {
			t.Errorf("ParseWMClass(%q) = %q, want %q", in, got, want)
		}
	}
}
