package logger

import (
	"time"
)

// OperationLogger logs the steps and outcome of one CLI or server operation
// with its elapsed time.
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger starts an operation. A nil logger discards output.
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	ol := &OperationLogger{
		logger:    OrNop(logger).WithComponent("operation"),
		operation: operation,
		fields:    make(Fields),
		startTime: time.Now(),
	}
	ol.logger.WithField("operation", operation).Debug("Starting operation")
	return ol
}

// WithField adds a field to every later entry of the operation.
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

func (ol *OperationLogger) entry(extra Fields) Logger {
	fields := Fields{"operation": ol.operation}
	for k, v := range ol.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return ol.logger.WithFields(fields)
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.entry(Fields{"step": step}).Debug("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.entry(Fields{"duration": time.Since(ol.startTime).String(), "status": "success"}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.entry(Fields{"duration": time.Since(ol.startTime).String(), "status": "error"}).WithError(err).Error(message)
}

// TimedOperation runs fn and logs its outcome and duration.
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)
	err := fn()
	if err != nil {
		ol.Error(err, "Operation failed")
	} else {
		ol.Success("Operation completed")
	}
	return err
}
