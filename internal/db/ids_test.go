package db

import (
	"strings"
	"testing"
)

func TestGenerateIDSortsByCreation(t *testing.T) {
	first := GenerateID("blb")
	second := GenerateID("blb")

	if !strings.HasPrefix(first, "blb_") || len(first) != len("blb_")+26 {
		t.Fatalf("GenerateID() = %q, want blb_ followed by 26 characters", first)
	}
	if first == second {
		t.Fatalf("GenerateID() returned %q twice", first)
	}
	if first[:len("blb_")+10] > second[:len("blb_")+10] {
		t.Fatalf("timestamp part of %q sorts after %q", first, second)
	}
}
