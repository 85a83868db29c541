package device

import (
	"bytes"
	"fmt"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
)

// IPRoute2 configures interfaces by running the ip(8) command.
type IPRoute2 struct {
	// Bin is the ip binary, "ip" by default.
	Bin string

	run func(name string, args ...string) error
}

// NewIPRoute2 returns a backend running "ip" from PATH.
func NewIPRoute2() *IPRoute2 {
	return &IPRoute2{Bin: "ip", run: runCommand}
}

func (r *IPRoute2) AddAddress(ifname string, prefix netip.Prefix) error {
	return r.ip("addr", "add", prefix.String(), "dev", ifname)
}

func (r *IPRoute2) DelAddress(ifname string, prefix netip.Prefix) error {
	return r.ip("addr", "del", prefix.String(), "dev", ifname)
}

func (r *IPRoute2) SetMTU(ifname string, mtu int) error {
	return r.ip("link", "set", "dev", ifname, "mtu", strconv.Itoa(mtu))
}

func (r *IPRoute2) SetLinkUp(ifname string) error {
	return r.ip("link", "set", "dev", ifname, "up")
}

func (r *IPRoute2) ip(args ...string) error {
	bin := r.Bin
	if bin == "" {
		bin = "ip"
	}
	run := r.run
	if run == nil {
		run = runCommand
	}
	return run(bin, args...)
}

func runCommand(name string, args ...string) error {
	var out bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
		}
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
	}
	return nil
}
