package aranet

import (
	"encoding/binary"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// Command opcodes written to CharCommand
const (
	CmdHistoryV2         byte = 0x61
	CmdHistoryV1         byte = 0x82
	CmdSetInterval       byte = 0x90
	CmdSetSmartHome      byte = 0x91
	CmdSetBluetoothRange byte = 0x92
)

// EncodeSetInterval builds [0x90, minutes]
func EncodeSetInterval(interval models.MeasurementInterval) ([]byte, error) {
	if _, err := models.MeasurementIntervalFromMinutes(interval.Minutes()); err != nil {
		return nil, &ConfigError{Message: err.Error()}
	}
	return []byte{CmdSetInterval, byte(interval.Minutes())}, nil
}

// EncodeSetSmartHome builds [0x91, 0|1]
func EncodeSetSmartHome(enabled bool) []byte {
	return []byte{CmdSetSmartHome, boolByte(enabled)}
}

// EncodeSetBluetoothRange builds [0x92, 0|1]
func EncodeSetBluetoothRange(r models.BluetoothRange) []byte {
	return []byte{CmdSetBluetoothRange, boolByte(r == models.BluetoothRangeExtended)}
}

// EncodeHistoryV1Request builds [0x82, param, start u16, count u16]
func EncodeHistoryV1Request(param models.HistoryParam, start, count uint16) []byte {
	b := make([]byte, 6)
	b[0] = CmdHistoryV1
	b[1] = byte(param)
	binary.LittleEndian.PutUint16(b[2:], start)
	binary.LittleEndian.PutUint16(b[4:], count)
	return b
}

// EncodeHistoryV2Request builds [0x61, param, start u16]
func EncodeHistoryV2Request(param models.HistoryParam, start uint16) []byte {
	b := make([]byte, 4)
	b[0] = CmdHistoryV2
	b[1] = byte(param)
	binary.LittleEndian.PutUint16(b[2:], start)
	return b
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
