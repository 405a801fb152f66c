// Package nat manages the DNAT rules that publish a container's ports
// on the host, by shelling out to iptables/ip6tables (spec §4.6 "NAT").
package nat

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/benkle-apps/sergio/pkg/metrics"
	"github.com/benkle-apps/sergio/pkg/model"
	"github.com/benkle-apps/sergio/pkg/sergioerr"
)

// externalDevice is the fixed host interface DNAT rules attach to.
const externalDevice = "enp1s0f0"

// AddressResolver resolves a container's addresses on a device, caching
// per spec §3's "IP cache lazily populated, never invalidated within an
// invocation" rule. Manager.addresses below does the caching on the
// *model.Container; pkg/orchestrator adapts an engine.Engine to this
// interface. It is an interface here purely to keep this
// package free of an import-cycle-prone dependency on pkg/engine's
// concrete address shape.
type AddressResolver interface {
	NetworkAddresses(ctx context.Context, id, device string) ([]Address, error)
}

// Address mirrors engine.Address without importing pkg/engine, which
// would otherwise pull containerd into every consumer of this package.
type Address struct {
	Family  string
	Address string
}

// Manager applies and removes NAT rules for a container's published
// ports.
type Manager struct {
	resolver AddressResolver
	runner   func(binary string, args ...string) error
	lister   func(binary string) ([]string, error)
}

// NewManager builds a Manager that resolves addresses through resolver.
func NewManager(resolver AddressResolver) *Manager {
	return &Manager{resolver: resolver, runner: runIPTables, lister: listRules}
}

// Apply publishes every port in c.Ports against the container's address
// on the port's device (resolved and cached by Manager.addresses), for
// IPv4 and IPv6 (spec §4.6 "nat"): existing
// rules matching the port are deleted first, then the single PREROUTING
// DNAT rule is appended.
func (m *Manager) Apply(ctx context.Context, c *model.Container) error {
	addrs4, addrs6, err := m.addresses(ctx, c)
	if err != nil {
		return err
	}

	for _, port := range c.Ports {
		device := port.Device
		if device == "" {
			device = externalDevice
		}
		if ip4, ok := addrs4[device]; ok {
			if err := m.applyOne("iptables", port, ip4, false); err != nil {
				return err
			}
		}
		if ip6, ok := addrs6[device]; ok {
			if err := m.applyOne("ip6tables", port, ip6, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// Remove un-publishes every port in ports (spec §4.6 "denat"): delete
// IPv4 rules, then IPv6 rules, for each port.
func (m *Manager) Remove(ctx context.Context, c *model.Container) error {
	for _, port := range c.Ports {
		if err := m.deleteMatching("iptables", port); err != nil {
			return err
		}
		if err := m.deleteMatching("ip6tables", port); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) addresses(ctx context.Context, c *model.Container) (v4, v6 map[string]string, err error) {
	v4 = make(map[string]string)
	v6 = make(map[string]string)

	devices := make(map[string]bool)
	for _, port := range c.Ports {
		device := port.Device
		if device == "" {
			device = externalDevice
		}
		devices[device] = true
	}

	for device := range devices {
		if ip, ok := c.CachedIP(device, "inet"); ok {
			v4[device] = ip
		}
		if ip, ok := c.CachedIP(device, "inet6"); ok {
			v6[device] = ip
		}
		if _, ok4 := v4[device]; ok4 {
			if _, ok6 := v6[device]; ok6 {
				continue
			}
		}

		addrs, err := m.resolver.NetworkAddresses(ctx, c.ID, device)
		if err != nil {
			return nil, nil, sergioerr.Wrap(sergioerr.NoSuchDevice, c.ID, fmt.Sprintf("device %q", device), err)
		}
		for _, a := range addrs {
			switch a.Family {
			case "inet":
				if _, ok := v4[device]; !ok {
					v4[device] = a.Address
					c.CacheIP(device, "inet", a.Address)
				}
			case "inet6":
				if _, ok := v6[device]; !ok {
					v6[device] = a.Address
					c.CacheIP(device, "inet6", a.Address)
				}
			}
		}
	}
	return v4, v6, nil
}

func (m *Manager) applyOne(binary string, port model.Port, ip string, v6 bool) error {
	if err := m.deleteMatching(binary, port); err != nil {
		return err
	}

	protocol := port.Protocol
	if protocol == "" {
		protocol = "tcp"
	}

	destination := fmt.Sprintf("%s:%d", ip, port.From)
	if v6 {
		destination = fmt.Sprintf("[%s]:%d", ip, port.From)
	}

	comment := port.Comment
	if comment == "" {
		comment = fmt.Sprintf("sergio:%d", port.To)
	}

	if err := m.runner(binary,
		"-t", "nat", "-A", "PREROUTING",
		"-p", protocol, "-i", externalDevice,
		"--dport", strconv.Itoa(port.To),
		"-j", "DNAT", "--to-destination", destination,
		"-m", "comment", "--comment", comment,
	); err != nil {
		return err
	}
	metrics.NATRulesAppliedTotal.WithLabelValues(binary, "apply").Inc()
	return nil
}

// deleteMatching removes every nat-table rule whose listing contains
// "dpt:<to>", by line number, highest first so earlier deletions don't
// shift the indices of rules still pending deletion (spec §6 "Iptables
// interface").
func (m *Manager) deleteMatching(binary string, port model.Port) error {
	lines, err := m.lister(binary)
	if err != nil {
		return fmt.Errorf("listing %s rules: %w", binary, err)
	}

	needle := fmt.Sprintf("dpt:%d", port.To)
	var lineNumbers []int
	for _, line := range lines {
		if !strings.Contains(line, needle) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		lineNumbers = append(lineNumbers, n)
	}

	for i := len(lineNumbers) - 1; i >= 0; i-- {
		if err := m.runner(binary, "-t", "nat", "-D", "PREROUTING", strconv.Itoa(lineNumbers[i])); err != nil {
			return fmt.Errorf("deleting %s rule at line %d: %w", binary, lineNumbers[i], err)
		}
		metrics.NATRulesAppliedTotal.WithLabelValues(binary, "delete").Inc()
	}
	return nil
}

func listRules(binary string) ([]string, error) {
	cmd := exec.Command("sudo", binary, "-L", "PREROUTING", "-n", "-t", "nat", "--line-numbers")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s: %w (output: %s)", binary, err, string(out))
	}
	return strings.Split(string(out), "\n"), nil
}

func runIPTables(binary string, args ...string) error {
	cmd := exec.Command("sudo", append([]string{binary}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w (output: %s)", binary, err, string(out))
	}
	return nil
}
