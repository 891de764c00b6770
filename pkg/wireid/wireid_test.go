package wireid

import "testing"

func TestParseMac(t *testing.T) {
	m, err := ParseMac("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := m.String(), "aa:bb:cc:dd:ee:ff"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseMacDash(t *testing.T) {
	m, err := ParseMac("AA-BB-CC-DD-EE-FF")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := m.String(), "aa:bb:cc:dd:ee:ff"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseMacMalformed(t *testing.T) {
	for _, s := range []string{"", "aa:bb", "gg:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff:00"} {
		if _, err := ParseMac(s); err == nil {
			t.Errorf("ParseMac(%q) expected error, got nil", s)
		}
	}
}

func TestFreqToChannelNum(t *testing.T) {
	cases := []struct {
		freq int
		want int
	}{
		{2412, 1},
		{2437, 6},
		{2462, 11},
		{2484, 14},
		{5180, 36},
		{5200, 40},
		{5825, 165},
		{0, 0},
	}
	for _, c := range cases {
		if got := FreqToChannelNum(c.freq); got != c.want {
			t.Errorf("FreqToChannelNum(%d) = %d, want %d", c.freq, got, c.want)
		}
	}
}

func TestBand(t *testing.T) {
	if Band(2437) != Band24GHz {
		t.Errorf("expected 2.4GHz band")
	}
	if Band(5200) != Band5GHz {
		t.Errorf("expected 5GHz band")
	}
	if Band(6115) != Band6GHz {
		t.Errorf("expected 6GHz band")
	}
}
