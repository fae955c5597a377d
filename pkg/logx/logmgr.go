//nolint:gochecknoglobals
package logx

import (
	"context"
	"log"
	"sync"
)

// Logger - logger interface.
type Logger interface {
	// LogInfo logs a message at Info level.
	LogInfo(ctx context.Context, msg string)
	// LogDebug logs a message at Debug level.
	LogDebug(ctx context.Context, msg string)
	// LogWarning logs a message at Warning level.
	LogWarning(ctx context.Context, msg string, errs ...error)
	// LogError logs a message at Error level.
	LogError(ctx context.Context, msg string, errs ...error)
	// LogPanic logs a message at Panic level then panics.
	LogPanic(ctx context.Context, msg string, errs ...error)
	// LogFatal logs a message at Fatal Level.
	// The logger then calls os.Exit(1), even if logging at FatalLevel is
	// disabled.
	LogFatal(ctx context.Context, msg string, errs ...error)

	GetLogger() interface{}
}

var (
	lock   sync.RWMutex
	logger Logger
)

// DefaultLogger - Logger implementation backed by the standard log package.
type DefaultLogger struct{}

// GetLogger - returns an instance of the Logger.
// If called before SetupLogger the default logger will be returned.
func GetLogger() Logger {
	lock.RLock()
	defer lock.RUnlock()

	if logger == nil {
		return &DefaultLogger{}
	}

	return logger
}

// SetLogger - replace the process wide logger. Passing nil restores the default logger.
func SetLogger(l Logger) {
	lock.Lock()
	defer lock.Unlock()

	logger = l
}

// LogInfo writes with the standard log package.
func (nl *DefaultLogger) LogInfo(ctx context.Context, msg string) {
	log.Println("INFO " + msg)
}

// LogDebug writes with the standard log package.
func (nl *DefaultLogger) LogDebug(ctx context.Context, msg string) {
	log.Println("DEBUG " + msg)
}

// LogWarning writes with the standard log package.
func (nl *DefaultLogger) LogWarning(ctx context.Context, msg string, errs ...error) {
	log.Println("WARN "+msg, errs)
}

// LogError writes with the standard log package.
func (nl *DefaultLogger) LogError(ctx context.Context, msg string, errs ...error) {
	log.Println("ERROR "+msg, errs)
}

// LogPanic writes with the standard log package.
func (nl *DefaultLogger) LogPanic(ctx context.Context, msg string, errs ...error) {
	log.Panicln("PANIC "+msg, errs)
}

// LogFatal writes with the standard log package.
func (nl *DefaultLogger) LogFatal(ctx context.Context, msg string, errs ...error) {
	log.Fatalln("FATAL "+msg, errs)
}

// GetLogger returns nil, there is no underlying logger.
func (nl *DefaultLogger) GetLogger() interface{} { return nil }
