package sandbox

import (
	"fmt"
	"net"
	"runtime"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

// guestNetNS holds the sandbox's network namespace handle, opened once at
// CreateSandbox and reused by every UpdateInterface/UpdateRoutes/List* call
// so those operations apply inside the sandbox's netns rather than the
// process's root one.
type guestNetNS struct {
	handle netns.NsHandle
}

func openGuestNetNS(path string) (*guestNetNS, error) {
	h, err := netns.GetFromPath(path)
	if err != nil {
		return nil, &kataerr.KernelError{Syscall: "open", Errno: err, Context: path}
	}
	return &guestNetNS{handle: h}, nil
}

func (n *guestNetNS) Close() error {
	return n.handle.Close()
}

// withNetNS runs fn with the calling goroutine's OS thread switched into
// the sandbox's network namespace, restoring the original namespace
// afterwards. netlink/netns operations are namespace-local to the calling
// thread, so this must hold the thread for the whole of fn -- the
// goroutine is locked for the duration and unlocked again on return,
// following the same pattern vishvananda/netns documents for any
// non-default-namespace use.
func (sb *Sandbox) withNetNS(fn func() error) error {
	if sb.netns == nil {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return &kataerr.KernelError{Syscall: "open", Errno: err, Context: "current netns"}
	}
	defer origin.Close()

	if err := netns.Set(sb.netns.handle); err != nil {
		return &kataerr.KernelError{Syscall: "setns", Errno: err, Context: "sandbox netns"}
	}
	defer netns.Set(origin)

	return fn()
}

// InterfaceConfig is one update_interfaces entry: a link name plus the
// addresses and MTU to apply to it.
type InterfaceConfig struct {
	Name         string
	HardwareAddr string
	MTU          int
	Addresses    []string // CIDR notation
	Up           bool
}

// RouteConfig is one update_routes entry.
type RouteConfig struct {
	Device      string
	Destination string // CIDR notation, "" means default route
	Gateway     string
	Source      string
}

// ARPNeighbor is one add_arp_neighbors entry.
type ARPNeighbor struct {
	Device       string
	IPAddress    string
	HardwareAddr string
}

// UpdateInterfaces applies link, address, and MTU changes to the sandbox
// network namespace (spec.md §4.4 update_interfaces).
func (sb *Sandbox) UpdateInterfaces(cfgs []InterfaceConfig) error {
	return sb.withNetNS(func() error {
		for _, cfg := range cfgs {
			if err := applyInterface(cfg); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyInterface(cfg InterfaceConfig) error {
	link, err := netlink.LinkByName(cfg.Name)
	if err != nil {
		return &kataerr.NotFound{Kind: "interface", ID: cfg.Name}
	}

	if cfg.HardwareAddr != "" {
		mac, err := net.ParseMAC(cfg.HardwareAddr)
		if err != nil {
			return &kataerr.InvalidSpec{Field: "interface.hardware_addr", Reason: err.Error()}
		}
		if err := netlink.LinkSetHardwareAddr(link, mac); err != nil {
			return &kataerr.KernelError{Syscall: "netlink(set hwaddr)", Errno: err, Context: cfg.Name}
		}
	}

	if cfg.MTU > 0 {
		if err := netlink.LinkSetMTU(link, cfg.MTU); err != nil {
			return &kataerr.KernelError{Syscall: "netlink(set mtu)", Errno: err, Context: cfg.Name}
		}
	}

	for _, addr := range cfg.Addresses {
		a, err := netlink.ParseAddr(addr)
		if err != nil {
			return &kataerr.InvalidSpec{Field: "interface.addresses", Reason: err.Error()}
		}
		if err := netlink.AddrAdd(link, a); err != nil {
			return &kataerr.KernelError{Syscall: "netlink(addr add)", Errno: err, Context: addr}
		}
	}

	if cfg.Up {
		if err := netlink.LinkSetUp(link); err != nil {
			return &kataerr.KernelError{Syscall: "netlink(link up)", Errno: err, Context: cfg.Name}
		}
	}

	return nil
}

// UpdateRoutes adds or replaces each given route in the sandbox network
// namespace (spec.md §4.4 update_routes); routes not in the list are left
// in place.
func (sb *Sandbox) UpdateRoutes(routes []RouteConfig) error {
	return sb.withNetNS(func() error {
		for _, r := range routes {
			if err := applyRoute(r); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyRoute(r RouteConfig) error {
	link, err := netlink.LinkByName(r.Device)
	if err != nil {
		return &kataerr.NotFound{Kind: "interface", ID: r.Device}
	}

	route := &netlink.Route{LinkIndex: link.Attrs().Index}

	if r.Destination != "" {
		_, dst, err := net.ParseCIDR(r.Destination)
		if err != nil {
			return &kataerr.InvalidSpec{Field: "route.destination", Reason: err.Error()}
		}
		route.Dst = dst
	}
	if r.Gateway != "" {
		route.Gw = net.ParseIP(r.Gateway)
	}
	if r.Source != "" {
		route.Src = net.ParseIP(r.Source)
	}

	if err := netlink.RouteReplace(route); err != nil {
		return &kataerr.KernelError{Syscall: "netlink(route replace)", Errno: err, Context: r.Device}
	}
	return nil
}

// ListInterfaces reports every link in the sandbox network namespace, its
// addresses, and (via ethtool) its driver name -- the extra detail
// list_interfaces responses carry for host-side diagnostics.
func (sb *Sandbox) ListInterfaces() ([]InterfaceConfig, error) {
	var out []InterfaceConfig
	err := sb.withNetNS(func() error {
		links, err := netlink.LinkList()
		if err != nil {
			return &kataerr.KernelError{Syscall: "netlink(link list)", Errno: err}
		}

		et, etErr := ethtool.NewEthtool()
		if etErr == nil {
			defer et.Close()
		}

		for _, link := range links {
			attrs := link.Attrs()
			addrs, _ := netlink.AddrList(link, netlink.FAMILY_ALL)

			cfg := InterfaceConfig{
				Name: attrs.Name,
				MTU:  attrs.MTU,
				Up:   attrs.Flags&net.FlagUp != 0,
			}
			if attrs.HardwareAddr != nil {
				cfg.HardwareAddr = attrs.HardwareAddr.String()
			}
			for _, a := range addrs {
				cfg.Addresses = append(cfg.Addresses, a.IPNet.String())
			}
			if etErr == nil {
				if driver, err := et.DriverName(attrs.Name); err == nil {
					cfg.Name = fmt.Sprintf("%s (%s)", cfg.Name, driver)
				}
			}
			out = append(out, cfg)
		}
		return nil
	})
	return out, err
}

// ListRoutes reports every route in the sandbox network namespace.
func (sb *Sandbox) ListRoutes() ([]RouteConfig, error) {
	var out []RouteConfig
	err := sb.withNetNS(func() error {
		routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
		if err != nil {
			return &kataerr.KernelError{Syscall: "netlink(route list)", Errno: err}
		}
		for _, r := range routes {
			link, lerr := netlink.LinkByIndex(r.LinkIndex)
			cfg := RouteConfig{}
			if lerr == nil {
				cfg.Device = link.Attrs().Name
			}
			if r.Dst != nil {
				cfg.Destination = r.Dst.String()
			}
			if r.Gw != nil {
				cfg.Gateway = r.Gw.String()
			}
			if r.Src != nil {
				cfg.Source = r.Src.String()
			}
			out = append(out, cfg)
		}
		return nil
	})
	return out, err
}

// AddARPNeighbors installs static ARP/NDP entries in the sandbox network
// namespace (spec.md §4.4 / §6 AddARPNeighbors).
func (sb *Sandbox) AddARPNeighbors(neighbors []ARPNeighbor) error {
	return sb.withNetNS(func() error {
		for _, n := range neighbors {
			if err := addARPNeighbor(n); err != nil {
				return err
			}
		}
		return nil
	})
}

func addARPNeighbor(n ARPNeighbor) error {
	link, err := netlink.LinkByName(n.Device)
	if err != nil {
		return &kataerr.NotFound{Kind: "interface", ID: n.Device}
	}

	mac, err := net.ParseMAC(n.HardwareAddr)
	if err != nil {
		return &kataerr.InvalidSpec{Field: "neighbor.hardware_addr", Reason: err.Error()}
	}

	neigh := &netlink.Neigh{
		LinkIndex:    link.Attrs().Index,
		State:        netlink.NUD_PERMANENT,
		IP:           net.ParseIP(n.IPAddress),
		HardwareAddr: mac,
	}
	if err := netlink.NeighAdd(neigh); err != nil {
		return &kataerr.KernelError{Syscall: "netlink(neigh add)", Errno: err, Context: n.Device}
	}
	return nil
}
