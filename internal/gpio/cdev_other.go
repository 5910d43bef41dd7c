//go:build !linux

package gpio

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewCdevDriver is only available on Linux.
func NewCdevDriver(chip string, logger *logrus.Entry) (Driver, error) {
	return nil, errors.Errorf("gpio character device %q: not supported on this platform", chip)
}
