package bdb

import (
	"github.com/objectdb/objectdb/infrastructure/logger"
)

var log = logger.RegisterSubSystem("BLDB")
