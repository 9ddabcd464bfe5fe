package logger

import "github.com/sirupsen/logrus"

// Leveled adapts the package logger to the key/value leveled logger
// interface used by HTTP retry clients.
type Leveled struct{}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

// Error logs msg at error level.
func (Leveled) Error(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Error(msg)
}

// Info logs msg at info level.
func (Leveled) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Info(msg)
}

// Debug logs msg at debug level.
func (Leveled) Debug(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

// Warn logs msg at warn level.
func (Leveled) Warn(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Warn(msg)
}
