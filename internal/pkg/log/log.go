// Package log adds logging utilities.
package log

import (
	"strings"
	"time"

	"polip/internal/pkg/device"
	"polip/internal/pkg/rpc"

	"github.com/sirupsen/logrus"
)

// SetLogger sets the default logger's level and format.
func SetLogger(level string) {
	logrus.SetLevel(logrus.ErrorLevel)
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	logrus.SetFormatter(customFormatter)
	customFormatter.FullTimestamp = true
	switch strings.ToLower(level) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.ErrorLevel)
	}
}

// DocumentToFields extracts the identity fields of a protocol document
// for logging.
func DocumentToFields(doc device.Document) logrus.Fields {
	fields := logrus.Fields{
		"serial":    doc.String("serial"),
		"timestamp": doc.String("timestamp"),
	}
	if value, ok := doc.Uint32("value"); ok {
		fields["value"] = value
	}
	if doc.Has("tag") {
		fields["tagged"] = true
	}
	return fields
}

// RecordToFields extracts a tracked RPC's identity and status for
// logging.
func RecordToFields(rec *rpc.Record) logrus.Fields {
	return logrus.Fields{
		"uuid":   rec.UUID,
		"type":   rec.Type,
		"status": rec.Status.String(),
		"next":   rec.NextStatus.String(),
	}
}
