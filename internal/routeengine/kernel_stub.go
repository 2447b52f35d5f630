// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package routeengine

import "fmt"

// LinuxBackend is a stub on non-Linux platforms. Policy routing and
// conntrack access require the Linux netlink stack; NewLinuxBackend exists
// here only so cmd/routed builds on a development machine.
type LinuxBackend struct{}

// NewLinuxBackend returns a backend whose methods always fail.
func NewLinuxBackend() *LinuxBackend {
	return &LinuxBackend{}
}

func (b *LinuxBackend) ApplyBatch(ops []Op) ([]error, error) {
	return nil, fmt.Errorf("kernel: policy routing not supported on this platform")
}

func (b *LinuxBackend) EnumerateConntrack() ([]ConntrackFlow, error) {
	return nil, fmt.Errorf("kernel: conntrack not supported on this platform")
}

func (b *LinuxBackend) DeleteConntrack(flow ConntrackFlow) error {
	return fmt.Errorf("kernel: conntrack not supported on this platform")
}

func (b *LinuxBackend) ResolveInterface(name string) (int, error) {
	return 0, fmt.Errorf("kernel: interface resolution not supported on this platform")
}

func (b *LinuxBackend) GetDefaultRoute() (DefaultRoute, error) {
	return DefaultRoute{}, fmt.Errorf("kernel: default route capture not supported on this platform")
}
