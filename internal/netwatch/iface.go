package netwatch

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"ipwatch/internal/types"
)

// virtualPrefixes are name prefixes of interfaces that never carry the
// default route to the internet
var virtualPrefixes = []string{
	"docker", "veth", "br-", "vmbr", "virbr",
	"vnet", "tun", "tap", "bond", "team",
	"vmnet", "wg", "ham", "vxlan", "overlay",
	"utun", "awdl", "llw", "bridge",
}

// IsVirtualInterface checks if the interface is virtual/non-physical
func IsVirtualInterface(name string) bool {
	name = strings.ToLower(name)
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Interface is one entry returned by a Lister
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.IP
}

// Lister enumerates the host's network interfaces
type Lister func() ([]Interface, error)

// SystemInterfaces lists interfaces with net.Interfaces
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		entry := Interface{Name: iface.Name, Flags: iface.Flags}
		if operState(iface.Name) == "down" {
			entry.Flags &^= net.FlagUp
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok {
				entry.Addrs = append(entry.Addrs, ipNet.IP)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// operState reads the kernel's operational state, which turns "down" when the
// link loses carrier even though the interface is still administratively up
func operState(name string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join("/sys/class/net", name, "operstate"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// usable reports whether iface can reach the internet: up, not loopback, and
// holding a global unicast address
func usable(iface Interface, includeVirtual bool) bool {
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
		return false
	}
	if !includeVirtual && IsVirtualInterface(iface.Name) {
		return false
	}
	return slices.ContainsFunc(iface.Addrs, func(ip net.IP) bool {
		return ip.IsGlobalUnicast()
	})
}

// snapshot keeps the usable interfaces and renders them sorted by name
func snapshot(ifaces []Interface, includeVirtual bool) []types.InterfaceInfo {
	var out []types.InterfaceInfo
	for _, iface := range ifaces {
		if !usable(iface, includeVirtual) {
			continue
		}
		info := types.InterfaceInfo{Name: iface.Name, Flags: iface.Flags.String()}
		for _, ip := range iface.Addrs {
			if ip.IsGlobalUnicast() {
				info.Addrs = append(info.Addrs, ip.String())
			}
		}
		slices.Sort(info.Addrs)
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b types.InterfaceInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// fingerprint identifies a snapshot so address changes can be detected
func fingerprint(infos []types.InterfaceInfo) string {
	var b strings.Builder
	for _, info := range infos {
		b.WriteString(info.Name)
		b.WriteByte('=')
		b.WriteString(strings.Join(info.Addrs, ","))
		b.WriteByte(';')
	}
	return b.String()
}
