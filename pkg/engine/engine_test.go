package engine

import "testing"

func TestShellCommand(t *testing.T) {
	got := shellCommand("deploy", "/bin/bash", "echo hi")
	want := []string{"sudo", "-n", "-u", "deploy", "/bin/bash", "-c", "echo hi"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
