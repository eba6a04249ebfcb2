/*
Package domain contains the entities and collaborator interfaces shared by the
controller.

Switch side:

The switch control stack delivers a closed set of SwitchEvent values
(ConnectionUp, PacketIn, ConnectionDown) and accepts two directives through
the Datapath interface: FlowRule installs and PacketOut forwards. Port and
buffer constants follow OpenFlow 1.3 numbering so a transport can pass them
through unchanged.

	rule := domain.FlowRule{
		Priority: domain.PriorityTableMiss,
		Match:    domain.Match{},
		Actions: []domain.ActionOutput{{
			Port:   domain.PortController,
			MaxLen: domain.ControllerMaxLenNoBuffer,
		}},
		BufferID: domain.NoBuffer,
	}

Monitoring side:

A ServerStatsClient returns a ServerSnapshot keyed by server id. Snapshots are
ephemeral: every VIP ARP request triggers a fresh fetch.

Frames:

FrameCodec decodes the Ethernet header (and ARP payload when present) and
encodes synthesized ARP replies. Frame only carries what the controller reads.
*/
package domain
