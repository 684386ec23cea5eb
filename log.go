package hive_mr3

import (
	"github.com/sirupsen/logrus" //nolint:depguard // this is used as the package-level logger
)

// Log is the package-level logger used throughout hive-mr3.
var Log = logrus.New()
