package main

import (
	"context"
	"encoding/json"
	"net"
	"strconv"

	"github.com/google/uuid"
)

// discoveryProbe is the token badges broadcast to find a server on the
// LAN. Anything not starting with it is ignored.
const discoveryProbe = "HORDEBOX?"

// discoveryReply identifies this server instance to a probing badge.
type discoveryReply struct {
	Server   string `json:"server"`
	Version  string `json:"version"`
	Instance string `json:"instance"`
	Port     int    `json:"port"`
}

// serveDiscovery answers UDP discovery probes until ctx is cancelled.
// Each reply carries a per-process instance id so badges can tell a
// restarted server from a second one.
func serveDiscovery(ctx context.Context, cfg *Config, conn net.PacketConn) {
	instance := uuid.NewString()

	reply, err := json.Marshal(discoveryReply{
		Server:   "hordebox",
		Version:  releaseVersion,
		Instance: instance,
		Port:     cfg.port,
	})
	if err != nil {
		logf(cfg, "DISCOVERY: marshal error: %v", err)
		return
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	logf(cfg, "DISCOVERY: Answering probes on udp/%d as %s", cfg.discoveryPort, instance)

	buf := make([]byte, 512)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}

		if n < len(discoveryProbe) || string(buf[:len(discoveryProbe)]) != discoveryProbe {
			continue
		}

		if _, err := conn.WriteTo(reply, addr); err != nil {
			logf(cfg, "DISCOVERY: reply to %s failed: %v", addr, err)
		}
	}
}

func listenDiscovery(cfg *Config) (net.PacketConn, error) {
	return net.ListenPacket("udp", net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.discoveryPort)))
}
