package nat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/benkle-apps/sergio/pkg/model"
)

type fakeResolver struct {
	addrs map[string][]Address // keyed by device
	calls int
}

func (r *fakeResolver) NetworkAddresses(ctx context.Context, id, device string) ([]Address, error) {
	r.calls++
	return r.addrs[device], nil
}

func newTestContainer(ports []model.Port) *model.Container {
	c := model.NewFromDefinition(&model.Definition{ID: "web", Name: "web"})
	c.Ports = ports
	return c
}

func TestApply_DeletesThenAppendsOneRulePerFamily(t *testing.T) {
	var ran []string
	resolver := &fakeResolver{addrs: map[string][]Address{
		"eth0": {{Family: "inet", Address: "10.0.0.5"}, {Family: "inet6", Address: "fd00::5"}},
	}}
	m := NewManager(resolver)
	m.lister = func(binary string) ([]string, error) {
		return []string{"1    DNAT    tcp  --  anywhere anywhere  tcp dpt:8080 to:10.0.0.9:80"}, nil
	}
	m.runner = func(binary string, args ...string) error {
		ran = append(ran, fmt.Sprintf("%s %s", binary, strings.Join(args, " ")))
		return nil
	}

	c := newTestContainer([]model.Port{{Device: "eth0", From: 80, To: 8080}})
	if err := m.Apply(context.Background(), c); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(ran) != 4 || ran[0] != "iptables -t nat -D PREROUTING 1" || ran[2] != "ip6tables -t nat -D PREROUTING 1" {
		t.Fatalf("expected each family's stale rule deleted before its append, got %v", ran)
	}

	var appended4, appended6 bool
	for _, call := range ran {
		if strings.HasPrefix(call, "iptables") && strings.Contains(call, "-A PREROUTING") {
			appended4 = true
			if !strings.Contains(call, "10.0.0.5:80") {
				t.Errorf("expected v4 destination in call: %s", call)
			}
		}
		if strings.HasPrefix(call, "ip6tables") && strings.Contains(call, "-A PREROUTING") {
			appended6 = true
			if !strings.Contains(call, "[fd00::5]:80") {
				t.Errorf("expected bracketed v6 destination in call: %s", call)
			}
		}
	}
	if !appended4 || !appended6 {
		t.Fatalf("expected both v4 and v6 rules appended, got %v", ran)
	}
}

func TestApply_CachesResolvedAddressAcrossPorts(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]Address{
		"eth0": {{Family: "inet", Address: "10.0.0.5"}},
	}}
	m := NewManager(resolver)
	m.lister = func(binary string) ([]string, error) { return nil, nil }
	m.runner = func(binary string, args ...string) error { return nil }

	c := newTestContainer([]model.Port{
		{Device: "eth0", From: 80, To: 8080},
		{Device: "eth0", From: 443, To: 8443},
	})
	if err := m.Apply(context.Background(), c); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if resolver.calls != 1 {
		t.Fatalf("expected the resolver to be called once and cached thereafter, got %d calls", resolver.calls)
	}
}

func TestDeleteMatching_DeletesByLineNumberDescending(t *testing.T) {
	var deleted []string
	m := &Manager{
		resolver: &fakeResolver{},
		lister: func(binary string) ([]string, error) {
			return []string{
				"num  target  prot opt source destination",
				"1    DNAT    tcp  --  anywhere anywhere  tcp dpt:8080 to:10.0.0.5:8080 /* sergio:8080 */",
				"2    DNAT    tcp  --  anywhere anywhere  tcp dpt:9090 to:10.0.0.5:9090 /* sergio:9090 */",
				"3    DNAT    tcp  --  anywhere anywhere  tcp dpt:8080 to:10.0.0.9:8080 /* sergio:8080 */",
			}, nil
		},
	}
	var deletedLines []string
	m.runner = func(binary string, args ...string) error {
		deleted = append(deleted, strings.Join(args, " "))
		deletedLines = append(deletedLines, args[len(args)-1])
		return nil
	}

	if err := m.deleteMatching("iptables", model.Port{To: 8080}); err != nil {
		t.Fatalf("deleteMatching: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("expected 2 matching rules deleted, got %v", deleted)
	}
	if deletedLines[0] != "3" || deletedLines[1] != "1" {
		t.Fatalf("expected descending line-number deletion order [3,1], got %v", deletedLines)
	}
}

func TestRemove_SkipsDevicesWithNoPorts(t *testing.T) {
	m := NewManager(&fakeResolver{})
	m.lister = func(binary string) ([]string, error) { return nil, nil }
	called := false
	m.runner = func(binary string, args ...string) error { called = true; return nil }

	c := newTestContainer(nil)
	if err := m.Remove(context.Background(), c); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if called {
		t.Fatal("expected no iptables calls for a container with no published ports")
	}
}
