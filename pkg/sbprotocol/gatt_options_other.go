//go:build !linux

package sbprotocol

import "github.com/fako1024/gatt"

func defaultClientOptions(_ int) []gatt.Option {
	return nil
}
