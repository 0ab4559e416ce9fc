// Package netutil finds the address other devices on the LAN can use to
// reach the gateway.
package netutil

import (
	"fmt"
	"net"
)

// GetBestLocalIP returns the outbound IPv4 address of this host. The UDP
// dial sends no packets; it only asks the kernel which interface routes
// outward. Interfaces are enumerated when that fails, and 127.0.0.1 is
// the last resort.
func GetBestLocalIP() string {
	if conn, err := net.Dial("udp", "8.8.8.8:80"); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP.To4() != nil {
			return addr.IP.String()
		}
	}

	interfaces, _ := net.Interfaces()
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
					return ipnet.IP.String()
				}
			}
		}
	}

	return "127.0.0.1"
}

// LANURL returns the tracker URL for other devices, or "" when the gateway
// only listens on loopback
func LANURL(host string, port int) string {
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() || host == "localhost" {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = GetBestLocalIP()
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(port)))
}
