package collector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	probe := &TCPProbe{DefaultPort: 80}
	res, err := probe.Ping(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Greater(t, res.RoundTrip, time.Duration(0))
}

func TestTCPProbe_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	res, err := (&TCPProbe{}).Ping(context.Background(), addr, time.Second)
	assert.Error(t, err)
	assert.False(t, res.Success)
}

func TestWithDefaultPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1:80", withDefaultPort("10.0.0.1", 80))
	assert.Equal(t, "10.0.0.1:80", withDefaultPort("10.0.0.1:0", 80))
	assert.Equal(t, "10.0.0.1:22", withDefaultPort("10.0.0.1:22", 80))
	assert.Equal(t, "[::1]:443", withDefaultPort("::1", 443))
}

func TestNewProbe(t *testing.T) {
	p, err := NewProbe("tcp")
	require.NoError(t, err)
	assert.IsType(t, &TCPProbe{}, p)

	p, err = NewProbe("icmp")
	require.NoError(t, err)
	assert.IsType(t, &ICMPProbe{}, p)

	_, err = NewProbe("snmp")
	assert.Error(t, err)
}
