package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/monitoring"
)

// LinkTypeCANSocketCAN is LINKTYPE_CAN_SOCKETCAN: SocketCAN frames with a
// big-endian identifier word.
const LinkTypeCANSocketCAN layers.LinkType = 227

// linkTypeLinuxSLL is the "any" interface capture link type; CAN packets
// carry protocol 0x000C (classic) or 0x000D (FD) after the 16 byte header.
const linkTypeLinuxSLL layers.LinkType = 113

// PcapSource replays a SocketCAN capture file. Frames carry their capture
// timestamps, so replays are deterministic.
type PcapSource struct {
	file     *os.File
	reader   *pcapgo.Reader
	linkType layers.LinkType
	count    int
	closed   bool
}

// OpenPcap opens a classic pcap file written by candump, tcpdump or
// Wireshark on a CAN interface.
func OpenPcap(path string) (*PcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP header %s: %w", path, err)
	}
	lt := r.LinkType()
	if lt != LinkTypeCANSocketCAN && lt != linkTypeLinuxSLL {
		f.Close()
		return nil, fmt.Errorf("unsupported PCAP link type %d in %s", lt, path)
	}
	return &PcapSource{file: f, reader: r, linkType: lt}, nil
}

// Receive implements Source. It never waits: the next packet is returned
// immediately and ErrClosed marks the end of the file. Packets that are not
// CAN frames are reported as transient errors.
func (p *PcapSource) Receive(time.Duration) (canframe.Frame, bool, error) {
	if p.closed {
		return canframe.Frame{}, false, ErrClosed
	}
	data, ci, err := p.reader.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			monitoring.Logf("PCAP replay complete: %d packets", p.count)
			return canframe.Frame{}, false, ErrClosed
		}
		return canframe.Frame{}, false, fmt.Errorf("pcap read: %w", err)
	}
	p.count++

	if p.linkType == linkTypeLinuxSLL {
		if len(data) < 16 {
			return canframe.Frame{}, false, transient("short SLL packet %d", p.count)
		}
		proto := uint16(data[14])<<8 | uint16(data[15])
		if proto != 0x000C && proto != 0x000D {
			return canframe.Frame{}, false, transient("packet %d is not CAN (protocol 0x%04x)", p.count, proto)
		}
		// cooked captures keep the kernel's host-order identifier
		data = data[16:]
		f, err := canframe.UnmarshalSocketCAN(data, canframe.HostOrder)
		if err != nil {
			return canframe.Frame{}, false, transient("packet %d: %v", p.count, err)
		}
		f.Timestamp = canframe.Seconds(ci.Timestamp)
		return f, true, nil
	}

	f, err := canframe.UnmarshalSocketCAN(data, canframe.NetworkOrder)
	if err != nil {
		return canframe.Frame{}, false, transient("packet %d: %v", p.count, err)
	}
	f.Timestamp = canframe.Seconds(ci.Timestamp)
	return f, true, nil
}

// Close implements Source.
func (p *PcapSource) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.file.Close()
}

// WritePcap writes frames as a LINKTYPE_CAN_SOCKETCAN capture.
func WritePcap(w io.Writer, frames []canframe.Frame) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(uint32(canframe.FDFrameSize), LinkTypeCANSocketCAN); err != nil {
		return err
	}
	for _, f := range frames {
		b, err := f.MarshalSocketCAN(canframe.NetworkOrder)
		if err != nil {
			return err
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     f.Time(),
			CaptureLength: len(b),
			Length:        len(b),
		}
		if err := pw.WritePacket(ci, b); err != nil {
			return err
		}
	}
	return nil
}
