package database

import (
	"github.com/objectdb/objectdb/infrastructure/logger"
	"github.com/objectdb/objectdb/util/panics"
)

var log = logger.RegisterSubSystem("ODBD")
var spawn = panics.GoroutineWrapperFunc(log)
