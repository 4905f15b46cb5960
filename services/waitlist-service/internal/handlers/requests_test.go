package handlers

import "testing"

func TestParseTimeWindow(t *testing.T) {
	start, end, err := parseTimeWindow("10:00", "14:30")
	if err != nil {
		t.Fatal(err)
	}
	if start != 600 || end != 870 {
		t.Fatalf("window = %d..%d", start, end)
	}

	if _, _, err := parseTimeWindow("10:00", "10:00"); err == nil {
		t.Fatal("expected error for empty window")
	}
	if _, _, err := parseTimeWindow("14:00", "10:00"); err == nil {
		t.Fatal("expected error for inverted window")
	}
	if _, _, err := parseTimeWindow("2pm", "15:00"); err == nil {
		t.Fatal("expected error for malformed start")
	}
}
