package storage

import (
	"errors"
	"testing"
)

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM t WHERE a = ?", "SELECT * FROM t WHERE a = $1"},
		{"UPDATE t SET a = ?, b = ? WHERE c = ?", "UPDATE t SET a = $1, b = $2 WHERE c = $3"},
	}
	for _, tt := range tests {
		if got := rebindDollar(tt.in); got != tt.want {
			t.Errorf("rebindDollar(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "0", false},
		{"0", "0", false},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "115792089237316195423570985008687907853269984665640564039457584007913129639935", false},
		{"-1", "", true},
		{"1.5", "", true},
		{"0x10", "", true},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("parseAmount(%q) error = %v, want ErrInvalidAmount", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseAmount(%q) error = %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("parseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseCursor(t *testing.T) {
	seq, err := parseCursor("")
	if err != nil || seq != 1<<63-1 {
		t.Errorf("parseCursor(\"\") = %d, %v", seq, err)
	}
	seq, err = parseCursor("17")
	if err != nil || seq != 17 {
		t.Errorf("parseCursor(\"17\") = %d, %v", seq, err)
	}
	if _, err := parseCursor("abc"); err == nil {
		t.Error("parseCursor(\"abc\") should fail")
	}
}
