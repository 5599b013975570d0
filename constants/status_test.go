package constants

import "testing"

func TestParseJobStatus(t *testing.T) {
	cases := map[string]JobStatus{
		"pending":      JobStatusPending,
		" Processing ": JobStatusProcessing,
		"COMPLETE":     JobStatusComplete,
		"failed":       JobStatusFailed,
	}
	for in, want := range cases {
		got, ok := ParseJobStatus(in)
		if !ok || got != want {
			t.Fatalf("ParseJobStatus(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseJobStatus("done"); ok {
		t.Fatal("unknown status should not parse")
	}
}

func TestCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusComplete, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusComplete, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusPending, JobStatusPending, false},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusComplete, JobStatusFailed, false},
		{JobStatusFailed, JobStatusComplete, false},
		{JobStatusComplete, JobStatusProcessing, false},
		{JobStatusPending, JobStatus("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalAndOutstanding(t *testing.T) {
	for _, st := range []JobStatus{JobStatusComplete, JobStatusFailed} {
		if !st.IsTerminal() || st.IsOutstanding() {
			t.Errorf("%s should be terminal and not outstanding", st)
		}
	}
	for _, st := range []JobStatus{JobStatusPending, JobStatusProcessing} {
		if st.IsTerminal() || !st.IsOutstanding() {
			t.Errorf("%s should be outstanding", st)
		}
	}
}

func TestNormalizeContentType(t *testing.T) {
	if got := NormalizeContentType("Application/PDF; charset=binary"); got != ContentTypePDF {
		t.Fatalf("got %q", got)
	}
	if got := ContentTypeForExt(".PDF"); got != ContentTypePDF {
		t.Fatalf("got %q", got)
	}
	if got := ContentTypeForExt("docx"); got != "" {
		t.Fatalf("got %q", got)
	}
}
