package disk

import (
	"github.com/diskfs/go-disktx/backend"
)

type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeFile
	DeviceTypeBlockDevice
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeFile:
		return "file"
	case DeviceTypeBlockDevice:
		return "block device"
	}
	return "unknown"
}

// DetermineDeviceType tells image files from block devices by the flags the backend
// reports for the device
func DetermineDeviceType(flags backend.DeviceFlags) DeviceType {
	switch {
	case flags&backend.DeviceFileBacked != 0:
		return DeviceTypeFile
	case flags&backend.DeviceHasMedia != 0:
		return DeviceTypeBlockDevice
	}
	return DeviceTypeUnknown
}

// Type returns whether the device is an image file or a block device
func (d *Device) Type() DeviceType {
	return DetermineDeviceType(d.data.DeviceFlags)
}
