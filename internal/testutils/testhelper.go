package testutils

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Output *bytes.Buffer
}

// NewTestHelper creates a test helper whose logger writes into an inspectable buffer.
func NewTestHelper(t *testing.T) *TestHelper {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	return &TestHelper{
		T:      t,
		Logger: logger,
		Output: buf,
	}
}

func CreateMockPeripheral() *PeripheralBuilder {
	return NewPeripheralBuilder()
}

func CreateMockPeripheralFromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(jsonStrFmt, args...)
}
