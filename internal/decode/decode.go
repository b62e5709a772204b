// Package decode turns raw CAN frames into typed servo telemetry samples.
//
// The payload layouts are fixed and little-endian. Decoding never fails with
// an error: a payload of the wrong length simply yields no sample, and the
// caller counts it as skipped.
package decode

import (
	"encoding/binary"

	"github.com/banshee-data/servotrace/internal/canframe"
)

// Payload layout constants.
const (
	CommandMinLen = 4
	ServoLen      = 16

	DefaultAngleScale = 10000.0
)

// CommandSample is a command (or command echo) addressed to one module.
type CommandSample struct {
	CommandID uint32
	ModuleID  uint8
	Timestamp float64
	Value     int32
}

// ServoSample is a servo feedback frame: current, velocity and position
// followed by a reserved half word and an error code.
type ServoSample struct {
	CommandID uint32
	ModuleID  uint8
	Timestamp float64
	Current   int32
	Velocity  int32
	Position  int32
	Error     uint16
}

// PositionSample is an angle report carried inside a larger payload at a
// fixed offset.
type PositionSample struct {
	CommandID uint32
	ModuleID  uint8
	Timestamp float64
	Value     int32
}

func int32LE(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) }

// DecodeCommand reads the first four payload bytes as a signed value. It
// returns false when the payload is shorter than four bytes.
func DecodeCommand(id uint32, ts float64, payload []byte) (CommandSample, bool) {
	if len(payload) < CommandMinLen {
		return CommandSample{}, false
	}
	return CommandSample{
		CommandID: id & canframe.CommandMask,
		ModuleID:  uint8(id & canframe.ModuleMask),
		Timestamp: ts,
		Value:     int32LE(payload[0:4]),
	}, true
}

// DecodeServo decodes a 16 byte servo feedback payload. It returns false for
// any other length.
func DecodeServo(id uint32, ts float64, payload []byte) (ServoSample, bool) {
	if len(payload) != ServoLen {
		return ServoSample{}, false
	}
	return ServoSample{
		CommandID: id & canframe.CommandMask,
		ModuleID:  uint8(id & canframe.ModuleMask),
		Timestamp: ts,
		Current:   int32LE(payload[0:4]),
		Velocity:  int32LE(payload[4:8]),
		Position:  int32LE(payload[8:12]),
		Error:     binary.LittleEndian.Uint16(payload[14:16]),
	}, true
}

// DecodePosition reads a signed value at offset. It returns false when the
// payload does not reach offset+4.
func DecodePosition(id uint32, ts float64, payload []byte, offset int) (PositionSample, bool) {
	if offset < 0 || len(payload) < offset+4 {
		return PositionSample{}, false
	}
	return PositionSample{
		CommandID: id & canframe.CommandMask,
		ModuleID:  uint8(id & canframe.ModuleMask),
		Timestamp: ts,
		Value:     int32LE(payload[offset : offset+4]),
	}, true
}

// Angle converts a raw fixed-point value to degrees. A non-positive scale
// falls back to DefaultAngleScale.
func Angle(raw int32, scale float64) float64 {
	if scale <= 0 {
		scale = DefaultAngleScale
	}
	return float64(raw) / scale
}
