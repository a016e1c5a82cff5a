package logging

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// DebugLevel is the glog verbosity at which Debug messages are emitted.
const DebugLevel glog.Level = 2

// Glog is a Logger backed by github.com/golang/glog.
// Debug messages are only written when -v is at least DebugLevel.
type Glog struct{}

// Debug implements Logger.
func (Glog) Debug(msg string, keysAndValues ...interface{}) {
	if glog.V(DebugLevel) {
		glog.InfoDepth(1, format(msg, keysAndValues))
	}
}

// Info implements Logger.
func (Glog) Info(msg string, keysAndValues ...interface{}) {
	glog.InfoDepth(1, format(msg, keysAndValues))
}

// Error implements Logger.
func (Glog) Error(msg string, keysAndValues ...interface{}) {
	glog.ErrorDepth(1, format(msg, keysAndValues))
}

// format renders msg followed by key=value pairs. A trailing key without a
// value is printed as key=<missing>.
func format(msg string, keysAndValues []interface{}) string {
	if len(keysAndValues) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, "%v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, "%v=<missing>", keysAndValues[i])
		}
	}
	return b.String()
}
