package discovery

import (
	"net"
	"os"
)

// LANIP returns the address this machine is reachable at on the local
// network. It opens a UDP socket toward a public address to learn which
// interface the OS would route through; no packet is actually sent.
// Falls back to a hostname lookup and finally to loopback.
func LANIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.IP.String()
		}
	}

	if host, err := os.Hostname(); err == nil {
		if addrs, err := net.LookupIP(host); err == nil {
			for _, ip := range addrs {
				if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() {
					return v4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}

// AdvertisedHost returns the host peers should be told about for a
// listener bound to bindHost. A wildcard bind advertises the LAN address.
func AdvertisedHost(bindHost string) string {
	if bindHost == "" || bindHost == "0.0.0.0" {
		return LANIP()
	}
	return bindHost
}
