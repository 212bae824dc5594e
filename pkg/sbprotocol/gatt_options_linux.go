//go:build linux

package sbprotocol

import "github.com/fako1024/gatt"

func defaultClientOptions(hciDevice int) []gatt.Option {
	return []gatt.Option{
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(hciDevice, true),
	}
}
