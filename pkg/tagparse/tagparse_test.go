package tagparse

import "testing"

func TestSplit(t *testing.T) {
	tag, body, err := Split("[0:00:08] hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != "0:00:08" {
		t.Errorf("tag = %q, want %q", tag, "0:00:08")
	}
	if body != " hello world" {
		t.Errorf("body = %q, want %q", body, " hello world")
	}
}

func TestSplitNoBracket(t *testing.T) {
	if _, _, err := Split("no tag here"); err != ErrNoTag {
		t.Errorf("err = %v, want ErrNoTag", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		tag  string
		want int64
	}{
		{"0:00:08", 8000},
		{"0:00:08.500", 8500},
		{"1:02:03", 3723000},
		{"0:60:00", 3600000},
	}
	for _, c := range cases {
		got, err := ParseTimestamp(c.tag)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) error: %v", c.tag, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseTimestamp(%q) = %d, want %d", c.tag, got, c.want)
		}
	}
}

func TestParseTimestampMalformed(t *testing.T) {
	cases := []string{"", "0:00", "0:61:00", "0:00:60", "a:00:00", "0:00:0x"}
	for _, tag := range cases {
		if _, err := ParseTimestamp(tag); err != ErrMalformedTag {
			t.Errorf("ParseTimestamp(%q) err = %v, want ErrMalformedTag", tag, err)
		}
	}
}

func TestExtractMillis(t *testing.T) {
	ms, body, err := ExtractMillis("[0:00:08] alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 8000 || body != " alpha" {
		t.Errorf("got (%d, %q), want (8000, %q)", ms, body, " alpha")
	}
}
