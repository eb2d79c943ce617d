package bootloader

// Logger receives the programmer's log output as a message plus alternating
// key/value pairs. internal/logging adapts zap to it.
//
//	type StdLogger struct{}
//	func (StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func (p *Programmer) logDebug(msg string, keysAndValues ...interface{}) {
	p.config.Logger.Debug(msg, keysAndValues...)
}

func (p *Programmer) logInfo(msg string, keysAndValues ...interface{}) {
	p.config.Logger.Info(msg, keysAndValues...)
}

func (p *Programmer) logError(msg string, keysAndValues ...interface{}) {
	p.config.Logger.Error(msg, keysAndValues...)
}
