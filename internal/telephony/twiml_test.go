package telephony

import (
	"strings"
	"testing"
)

func TestCounselingGreetingTwiML(t *testing.T) {
	out := CounselingGreetingTwiML()
	if !strings.Contains(out, "<Response>") {
		t.Fatalf("expected Response element, got %q", out)
	}
	if !strings.Contains(out, "<Say") || !strings.Contains(out, "student support team") {
		t.Fatalf("expected greeting Say verb, got %q", out)
	}
}
