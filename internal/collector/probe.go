package collector

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// protocolICMP is the IANA protocol number of ICMP for IPv4.
const protocolICMP = 1

// ProbeResult is the outcome of one reachability check
type ProbeResult struct {
	Success   bool
	RoundTrip time.Duration
}

// Probe checks that a target address answers
type Probe interface {
	Ping(ctx context.Context, address string, timeout time.Duration) (ProbeResult, error)
}

// NewProbe returns the probe named by kind: "tcp" or "icmp"
func NewProbe(kind string) (Probe, error) {
	switch kind {
	case "tcp", "":
		return &TCPProbe{DefaultPort: 80}, nil
	case "icmp":
		return NewICMPProbe(), nil
	default:
		return nil, fmt.Errorf("unsupported probe: %s", kind)
	}
}

// TCPProbe measures the time to establish a TCP connection
type TCPProbe struct {
	// DefaultPort is dialled when the address carries no port or port 0
	DefaultPort int
}

func (p *TCPProbe) Ping(ctx context.Context, address string, timeout time.Duration) (ProbeResult, error) {
	address = withDefaultPort(address, p.DefaultPort)

	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("dial %s: %w", address, err)
	}
	rtt := time.Since(start)
	conn.Close()

	return ProbeResult{Success: true, RoundTrip: rtt}, nil
}

func withDefaultPort(address string, port int) string {
	host, p, err := net.SplitHostPort(address)
	if err != nil {
		return net.JoinHostPort(address, strconv.Itoa(port))
	}
	if p == "" || p == "0" {
		return net.JoinHostPort(host, strconv.Itoa(port))
	}
	return address
}

// ICMPProbe sends an unprivileged ICMP echo request. It needs
// net.ipv4.ping_group_range to include the process group.
type ICMPProbe struct {
	id  int
	seq atomic.Uint32
}

func NewICMPProbe() *ICMPProbe {
	return &ICMPProbe{id: os.Getpid() & 0xffff}
}

func (p *ICMPProbe) Ping(ctx context.Context, address string, timeout time.Duration) (ProbeResult, error) {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}

	dst, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("resolve %s: %w", host, err)
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return ProbeResult{}, fmt.Errorf("open icmp socket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return ProbeResult{}, err
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  int(p.seq.Add(1) & 0xffff),
			Data: []byte("servermon"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return ProbeResult{}, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(payload, &net.UDPAddr{IP: dst.IP}); err != nil {
		return ProbeResult{}, fmt.Errorf("send echo to %s: %w", dst, err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ProbeResult{}, ctx.Err()
			}
			return ProbeResult{}, fmt.Errorf("await echo reply from %s: %w", dst, err)
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}
		if reply.Type == ipv4.ICMPTypeEchoReply {
			return ProbeResult{Success: true, RoundTrip: time.Since(start)}, nil
		}
	}
}
