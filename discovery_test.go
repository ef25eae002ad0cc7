package main

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryProbeReply(t *testing.T) {
	cfg := &Config{bind: "127.0.0.1", port: 8080}

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serveDiscovery(ctx, cfg, conn)

	badge, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer badge.Close()

	_, err = badge.Write([]byte("HORDEBOX? badge-17"))
	require.NoError(t, err)

	require.NoError(t, badge.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 512)
	n, err := badge.Read(buf)
	require.NoError(t, err)

	var reply discoveryReply
	require.NoError(t, json.Unmarshal(buf[:n], &reply))
	assert.Equal(t, "hordebox", reply.Server)
	assert.Equal(t, releaseVersion, reply.Version)
	assert.Equal(t, 8080, reply.Port)
	assert.NotEmpty(t, reply.Instance)
}

func TestDiscoveryIgnoresOtherTraffic(t *testing.T) {
	cfg := &Config{bind: "127.0.0.1", port: 8080}

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serveDiscovery(ctx, cfg, conn)

	badge, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer badge.Close()

	_, err = badge.Write([]byte("SSDP M-SEARCH"))
	require.NoError(t, err)

	require.NoError(t, badge.SetReadDeadline(time.Now().Add(200*time.Millisecond)))

	buf := make([]byte, 512)
	_, err = badge.Read(buf)
	assert.Error(t, err, "non-probe traffic must get no reply")
}
