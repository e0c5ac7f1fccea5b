// File: outlet/ports.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Port selection for the outlet's TCP data and UDP service sockets (spec
// §4.8/§4.13): bind to the configured base port, walking the configured
// range on EADDRINUSE, matching api_config.cpp's fixed base+range scheme
// rather than always falling back to an ephemeral port.
package outlet

import (
	"fmt"
	"net"
)

// bindTCP finds a free TCP port for ip within [base, base+rangeLen).
func bindTCP(ip net.IP, base, rangeLen int, allowRandom bool) (net.Listener, error) {
	for i := 0; i < rangeLen; i++ {
		port := base + i
		ln, err := net.Listen("tcp", net.JoinHostPort(ip.String(), fmt.Sprint(port)))
		if err == nil {
			return ln, nil
		}
	}
	if allowRandom {
		return net.Listen("tcp", net.JoinHostPort(ip.String(), "0"))
	}
	return nil, fmt.Errorf("outlet: no free tcp port in range [%d,%d) on %s", base, base+rangeLen, ip)
}

// bindUDP finds a free UDP port for ip within [base, base+rangeLen).
func bindUDP(ip net.IP, base, rangeLen int, allowRandom bool) (*net.UDPConn, error) {
	for i := 0; i < rangeLen; i++ {
		port := base + i
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			return conn, nil
		}
	}
	if allowRandom {
		return net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: 0})
	}
	return nil, fmt.Errorf("outlet: no free udp port in range [%d,%d) on %s", base, base+rangeLen, ip)
}

func udpPort(conn *net.UDPConn) int {
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func tcpPort(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}
