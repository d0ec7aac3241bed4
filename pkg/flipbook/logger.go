package flipbook

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var pkgLogger atomic.Pointer[zap.Logger]

func init() {
	pkgLogger.Store(zap.NewNop())
}

// SetLogger sets the logger used by the package. nil restores the silent
// default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}

	pkgLogger.Store(l.Named("flipbook"))
}

func logger() *zap.Logger {
	return pkgLogger.Load()
}
