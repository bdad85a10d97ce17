// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/flotilla-foundation/flotilla/protocol"
)

// heartbeatLoop publishes the node liveness record at the configured
// interval. A beat goes out immediately on start so the fleet sees new
// nodes without waiting a full interval.
func (n *node) heartbeatLoop(ctx context.Context) {
	defer n.loopsDone.Done()

	n.beat()
	ticker := n.clock.NewTicker(n.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.beat()
		}
	}
}

func (n *node) beat() {
	uptime := n.clock.Now().UTC().Sub(n.startedAt)
	n.publish(protocol.SubjectNodeHeartbeat, protocol.Heartbeat{
		NodeUUID:      n.identity.UUID,
		Name:          n.identity.Name,
		Role:          n.identity.Role,
		Capabilities:  n.identity.Capabilities,
		UptimeSeconds: int64(uptime.Seconds()),
	})
}
