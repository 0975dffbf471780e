//go:build !linux

package camtrigger

import "errors"

func openGPIOD(cfg PinConfig) (*Lines, error) {
	return nil, errors.New("gpiod backend requires linux")
}
