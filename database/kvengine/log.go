package kvengine

import (
	"github.com/objectdb/objectdb/infrastructure/logger"
)

var log = logger.RegisterSubSystem("KVEN")
