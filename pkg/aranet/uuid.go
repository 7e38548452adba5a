package aranet

import (
	"tinygo.org/x/bluetooth"
)

// ManufacturerID is the Bluetooth SIG company identifier of SAF Tehnika
const ManufacturerID uint16 = 0x0702

// Aranet GATT services
var (
	ServiceNew = bluetooth.New16BitUUID(0xFCE0)
	ServiceOld = aranetUUID("f0cd1400")
)

// Aranet GATT characteristics
var (
	CharCurrentReadingsBasic     = aranetUUID("f0cd1503")
	CharCurrentReadingsDetail    = aranetUUID("f0cd3001")
	CharCurrentReadingsDetailAlt = aranetUUID("f0cd3003")
	CharTotalReadings            = aranetUUID("f0cd2001")
	CharReadInterval             = aranetUUID("f0cd2002")
	CharHistoryV1                = aranetUUID("f0cd2003")
	CharSecondsSinceUpdate       = aranetUUID("f0cd2004")
	CharHistoryV2                = aranetUUID("f0cd2005")
	CharSensorState              = aranetUUID("f0cd1401")
	CharCommand                  = aranetUUID("f0cd1402")
	CharCalibration              = aranetUUID("f0cd1502")
)

// Standard services and characteristics
var (
	ServiceGenericAccess     = bluetooth.New16BitUUID(0x1800)
	ServiceDeviceInformation = bluetooth.New16BitUUID(0x180A)
	ServiceBattery           = bluetooth.New16BitUUID(0x180F)

	CharDeviceName       = bluetooth.New16BitUUID(0x2A00)
	CharModelNumber      = bluetooth.New16BitUUID(0x2A24)
	CharSerialNumber     = bluetooth.New16BitUUID(0x2A25)
	CharFirmwareRevision = bluetooth.New16BitUUID(0x2A26)
	CharHardwareRevision = bluetooth.New16BitUUID(0x2A27)
	CharSoftwareRevision = bluetooth.New16BitUUID(0x2A28)
	CharManufacturerName = bluetooth.New16BitUUID(0x2A29)
	CharBatteryLevel     = bluetooth.New16BitUUID(0x2A19)
)

// discoveryServices are the services resolved after connecting
var discoveryServices = []bluetooth.UUID{
	ServiceNew,
	ServiceOld,
	ServiceGenericAccess,
	ServiceDeviceInformation,
	ServiceBattery,
}

func aranetUUID(prefix string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(prefix + "-95da-4f4b-9ac8-aa55d312af0c")
	if err != nil {
		panic("aranet: invalid uuid " + prefix + ": " + err.Error())
	}
	return u
}

// IsAranetService reports whether u is one of the Aranet services
func IsAranetService(u bluetooth.UUID) bool {
	return u == ServiceNew || u == ServiceOld
}
