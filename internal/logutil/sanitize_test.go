package logutil

import "testing"

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "ls -la", "ls -la"},
		{"newline injection", "admin\nFAKE LOG LINE", "admin FAKE LOG LINE"},
		{"carriage return", "pass\rword", "pass word"},
		{"tab", "a\tb", "a b"},
		{"escape sequence", "x\x1b[2Jy", "x[2Jy"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
