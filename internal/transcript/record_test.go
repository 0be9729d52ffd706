package transcript

import "testing"

func TestRecord_DisplayText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"text", Record{Text: "hello there"}, "hello there"},
		{"empty echo", Record{Text: "", Reason: "prompt_echo"}, ""},
		{"unavailable", Record{Unavailable: true, Reason: "breaker_open"}, UnavailableText},
		{"unavailable ignores text", Record{Text: "stale", Unavailable: true}, UnavailableText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.DisplayText(); got != tc.want {
				t.Errorf("DisplayText() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	for _, s := range []Source{SourceVoice, SourceTTS, SourceBot} {
		got, err := ParseSource(s.String())
		if err != nil {
			t.Fatalf("ParseSource(%q): %v", s.String(), err)
		}
		if got != s {
			t.Errorf("ParseSource(%q) = %v, want %v", s.String(), got, s)
		}
	}
	if _, err := ParseSource("robot"); err == nil {
		t.Error("ParseSource(robot) = nil error, want error")
	}
}
