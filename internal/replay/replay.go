// Package replay drives the controller from a packet capture: the capture
// stands in for one switch that sends every frame to the controller.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/mir00r/sdn-load-balancer/internal/datapath"
	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// pcapng files start with a section header block
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// EventHandler consumes switch events
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.SwitchEvent) error
}

// Options configures a replay
type Options struct {
	DPID uint64
	// InPort is the ingress port of every frame. Zero derives it from the
	// pcapng interface index (index + 1), or port 1 for classic pcap.
	InPort uint32
}

// Summary reports what a replay did
type Summary struct {
	Source     string                    `json:"source"`
	DPID       string                    `json:"dpid"`
	Frames     int                       `json:"frames"`
	Handled    int                       `json:"handled"`
	Failed     map[cerrors.ErrorCode]int `json:"failed,omitempty"`
	FlowMods   int                       `json:"flow_mods"`
	PacketOuts int                       `json:"packet_outs"`
	Directives []datapath.Directive      `json:"-"`
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Runner replays captures into an event handler
type Runner struct {
	handler EventHandler
	logger  *logger.Logger
}

// NewRunner creates a runner
func NewRunner(handler EventHandler, log *logger.Logger) *Runner {
	return &Runner{
		handler: handler,
		logger:  log,
	}
}

// RunFile replays the capture at path
func (r *Runner) RunFile(ctx context.Context, path string, opts Options) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	return r.Run(ctx, f, path, opts)
}

// Run replays a pcap or pcapng stream. The switch is connected before the
// first frame and disconnected after the last one. Frames the controller
// rejects are counted and skipped.
func (r *Runner) Run(ctx context.Context, src io.Reader, name string, opts Options) (*Summary, error) {
	log := r.logger.ReplayLogger(name)

	source, err := openSource(src)
	if err != nil {
		return nil, err
	}
	if source.LinkType() != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("unsupported link type %s, need Ethernet", source.LinkType())
	}

	dp := datapath.NewRecorder(opts.DPID, log)
	summary := &Summary{
		Source: name,
		DPID:   fmt.Sprintf("%016x", opts.DPID),
		Failed: make(map[cerrors.ErrorCode]int),
	}

	if err := r.handler.HandleEvent(ctx, domain.ConnectionUp{Datapath: dp}); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, ci, err := source.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", summary.Frames+1, err)
		}
		summary.Frames++

		ev := domain.PacketIn{
			Datapath: dp,
			InPort:   inPort(opts, ci),
			BufferID: domain.NoBuffer,
			TotalLen: totalLen(ci, data),
			Data:     data,
		}
		if err := r.handler.HandleEvent(ctx, ev); err != nil {
			summary.Failed[cerrors.GetErrorCode(err)]++
			log.WithError(err).WithField("frame", summary.Frames).Warn("Frame rejected")
			continue
		}
		summary.Handled++
	}

	if err := r.handler.HandleEvent(ctx, domain.ConnectionDown{DPID: opts.DPID}); err != nil {
		return nil, err
	}

	summary.Directives = dp.Directives()
	for _, d := range summary.Directives {
		switch d.Kind {
		case datapath.DirectiveFlow:
			summary.FlowMods++
		case datapath.DirectivePacket:
			summary.PacketOuts++
		}
	}

	log.WithFields(map[string]interface{}{
		"frames":      summary.Frames,
		"handled":     summary.Handled,
		"flow_mods":   summary.FlowMods,
		"packet_outs": summary.PacketOuts,
	}).Info("Replay finished")

	return summary, nil
}

func openSource(src io.Reader) (packetSource, error) {
	br := bufio.NewReader(src)
	magic, err := br.Peek(len(ngMagic))
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return ng, nil
	}

	reader, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return reader, nil
}

func inPort(opts Options, ci gopacket.CaptureInfo) uint32 {
	if opts.InPort != 0 {
		return opts.InPort
	}
	return uint32(ci.InterfaceIndex) + 1
}

// totalLen is the original frame length, which exceeds len(data) when the
// capture was snapped
func totalLen(ci gopacket.CaptureInfo, data []byte) uint16 {
	n := ci.Length
	if n < len(data) {
		n = len(data)
	}
	if n > 0xffff {
		n = 0xffff
	}
	return uint16(n)
}
