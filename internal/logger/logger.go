package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

// New builds the process logger once; later calls return the same instance.
func New(development bool) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		var l *zap.Logger
		if development {
			l, err = zap.NewDevelopment()
		} else {
			l, err = zap.NewProduction()
		}
		if err != nil {
			return
		}
		instance = l.Sugar()
	})
	return instance, err
}
