package ult

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

// Sentinel errors returned by the public API. Callers should use
// errors.Is against these rather than matching on message text.
var (
	ErrSlotExhausted   = errors.New("ult: no free thread slots")
	ErrUnknownThread   = errors.New("ult: no thread with the given id")
	ErrInvalidArgument = errors.New("ult: invalid argument")
	ErrMainThreadSleep = errors.New("ult: the main thread cannot sleep")
	ErrMainThreadBlock = errors.New("ult: the main thread cannot be blocked")
)

// sysErr logs a "system error" diagnostic in the style the original
// library printed to stderr before returning failure to the caller.
func sysErr(op string, err error) error {
	log.WithField("op", op).Errorf("system error: %v", err)
	return err
}
