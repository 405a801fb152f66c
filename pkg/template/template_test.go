package template

import "testing"

func TestApply_BareAndBracedForms(t *testing.T) {
	got := Apply("listen ${port} on $host", map[string]string{"port": "8080", "host": "0.0.0.0"})
	want := "listen 8080 on 0.0.0.0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApply_UnknownPlaceholderPreservedVerbatim(t *testing.T) {
	got := Apply("$a-$b", map[string]string{"a": "1"})
	want := "1-$b"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApply_PrecedenceRPCOverContainerOverGlobal(t *testing.T) {
	global := map[string]string{"env": "global", "region": "us"}
	container := map[string]string{"env": "container"}
	rpc := map[string]string{"env": "rpc"}

	got := Apply("$env/$region", global, container, rpc)
	want := "rpc/us"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApply_SinglePassNoRecursiveExpansion(t *testing.T) {
	scope := map[string]string{"a": "$b", "b": "final"}
	got := Apply("$a", scope)
	want := "$b"
	if got != want {
		t.Fatalf("substitution should not be re-scanned: got %q, want %q", got, want)
	}
}

func TestApply_NoPlaceholdersIsUnchanged(t *testing.T) {
	got := Apply("no placeholders here", map[string]string{"a": "1"})
	if got != "no placeholders here" {
		t.Fatalf("got %q", got)
	}
}
