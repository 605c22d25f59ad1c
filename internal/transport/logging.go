package transport

import (
	"encoding/json"
	"fmt"

	applog "moodtap/internal/log"
)

// LoggingTransport implements the Transport interface by logging data to the console.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Debugf("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs mood changes at info level and everything else at debug level.
func (lt *LoggingTransport) Send(data any) error {
	msg, ok := data.(Message)
	if !ok {
		if p, isPtr := data.(*Message); isPtr && p != nil {
			msg, ok = *p, true
		}
	}
	if !ok {
		applog.Debugf("LoggingTransport: Received (%T): %+v", data, data)
		return nil
	}

	entry := applog.WithFields(applog.Fields{
		"session": msg.Session,
		"kind":    msg.Kind,
		"mood":    msg.Mood,
	})
	switch msg.Kind {
	case KindMoodChange:
		if msg.Change != nil {
			entry.Infof("LoggingTransport: mood %s -> %s (%.2f)", msg.Change.From, msg.Change.To, msg.Change.Confidence)
		}
	case KindResult:
		entry.Infof("LoggingTransport: %s classified as %s (%.2f)", msg.Source, msg.Mood, msg.Confidence)
	default:
		if applog.GetLevel() > applog.LevelDebug {
			return nil
		}
		payload, err := json.Marshal(msg.Features)
		if err != nil {
			return fmt.Errorf("LoggingTransport: marshal features: %w", err)
		}
		entry.Debugf("LoggingTransport: features %s", payload)
	}
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
