package canframe

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseSLCAN decodes one SLCAN (Lawicel) receive line such as "t2014640000000"
// or "T000005018...". Lines for classic data (t/T), remote (r/R) and FD
// frames (d/D, b/B with bit rate switch) are accepted. A trailing 4-digit
// adapter timestamp and the '\r' terminator are ignored; the caller stamps
// the frame.
func ParseSLCAN(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Frame{}, fmt.Errorf("slcan: empty line")
	}

	var f Frame
	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		f.Extended, idLen = true, 8
	case 'r':
		f.Remote = true
	case 'R':
		f.Remote, f.Extended, idLen = true, true, 8
	case 'd', 'b':
		f.FD = true
	case 'D', 'B':
		f.FD, f.Extended, idLen = true, true, 8
	default:
		return Frame{}, fmt.Errorf("slcan: unsupported command %q", line[0])
	}

	if len(line) < 1+idLen+1 {
		return Frame{}, fmt.Errorf("slcan: truncated line %q", line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("slcan: bad identifier: %w", err)
	}
	f.ID = uint32(id)

	dlc, err := strconv.ParseUint(line[1+idLen:2+idLen], 16, 8)
	if err != nil {
		return Frame{}, fmt.Errorf("slcan: bad dlc: %w", err)
	}
	n := DLCToLen(uint8(dlc), f.FD)
	if f.Remote {
		return f, f.Validate()
	}

	rest := line[2+idLen:]
	if len(rest) < 2*n {
		return Frame{}, fmt.Errorf("slcan: want %d data bytes, got %d hex digits", n, len(rest))
	}
	f.Data, err = hex.DecodeString(rest[:2*n])
	if err != nil {
		return Frame{}, fmt.Errorf("slcan: bad data: %w", err)
	}
	return f, f.Validate()
}

// FormatSLCAN encodes a frame as an SLCAN transmit line terminated by '\r'.
// Payload lengths that are not a valid FD length are zero padded to the next
// one.
func FormatSLCAN(f Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	var cmd byte
	switch {
	case f.FD && f.Extended:
		cmd = 'D'
	case f.FD:
		cmd = 'd'
	case f.Remote && f.Extended:
		cmd = 'R'
	case f.Remote:
		cmd = 'r'
	case f.Extended:
		cmd = 'T'
	default:
		cmd = 't'
	}
	b.WriteByte(cmd)
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	dlc := LenToDLC(len(f.Data))
	fmt.Fprintf(&b, "%X", dlc)
	if !f.Remote {
		data := make([]byte, DLCToLen(dlc, f.FD))
		copy(data, f.Data)
		b.WriteString(strings.ToUpper(hex.EncodeToString(data)))
	}
	b.WriteByte('\r')
	return b.String(), nil
}
