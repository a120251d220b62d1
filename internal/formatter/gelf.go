// internal/formatter/gelf.go

package formatter

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/orgoj/amqpgelf/internal/layout"
	"github.com/orgoj/amqpgelf/internal/logevent"
	"gopkg.in/Graylog2/go-gelf.v2/gelf"
)

// GelfVersion is stamped into every document.
const GelfVersion = "1.1"

// reservedID is dropped from custom fields; Graylog treats _id as its own.
const reservedID = "_id"

var syslogLevels = [...]int32{
	logevent.ALL:   gelf.LOG_DEBUG,
	logevent.TRACE: gelf.LOG_DEBUG,
	logevent.DEBUG: gelf.LOG_DEBUG,
	logevent.INFO:  gelf.LOG_INFO,
	logevent.WARN:  gelf.LOG_WARNING,
	logevent.ERROR: gelf.LOG_ERR,
	logevent.FATAL: gelf.LOG_CRIT,
}

// SyslogLevel maps a log level to its syslog severity. Levels outside the
// table map to debug.
func SyslogLevel(l logevent.Level) int32 {
	if l < 0 || int(l) >= len(syslogLevels) {
		return gelf.LOG_DEBUG
	}
	return syslogLevels[l]
}

// GelfFormatter turns log events into GELF documents.
type GelfFormatter struct {
	hostname        string
	staticFields    map[string]interface{}
	layout          layout.Layout
	maxShortMessage int
	now             func() time.Time
}

// NewGelfFormatter creates a formatter. When facility is set it is added to
// the static fields as _facility. A nil layout renders the raw event data.
func NewGelfFormatter(hostname, facility string, customFields map[string]interface{}, l layout.Layout) *GelfFormatter {
	static := make(map[string]interface{}, len(customFields)+1)
	for k, v := range customFields {
		static[k] = v
	}
	if facility != "" {
		static["_facility"] = facility
	}
	if l == nil {
		l = layout.MessagePassThrough
	}
	return &GelfFormatter{
		hostname:     hostname,
		staticFields: static,
		layout:       l,
		now:          time.Now,
	}
}

// SetMaxShortMessage limits the length of short_message; 0 disables the limit.
func (f *GelfFormatter) SetMaxShortMessage(n int) {
	f.maxShortMessage = n
}

// Format builds the GELF document for ev. The event's data list loses its
// first element when that element carried per-event fields.
func (f *GelfFormatter) Format(ev *logevent.Event) (msg *gelf.Message, err error) {
	if ev == nil {
		return nil, fmt.Errorf("nil log event")
	}
	defer func() {
		// Layouts run caller-supplied fmt verbs and Stringers.
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("failed to format log event: %v", r)
		}
	}()

	msg = &gelf.Message{
		Version: GelfVersion,
		Host:    f.hostname,
		Level:   SyslogLevel(ev.Level),
		Extra:   make(map[string]interface{}),
	}
	f.AddCustomFields(ev, msg.Extra)

	short := f.layout(ev)
	if f.maxShortMessage > 0 {
		short = truncateString(short, f.maxShortMessage)
	}
	msg.Short = short

	ts := ev.Time
	if ts.IsZero() {
		ts = f.now()
	}
	msg.TimeUnix = float64(ts.Unix()) + float64(ts.Nanosecond())/1e9

	return msg, nil
}

// AddCustomFields merges the static fields and, when the first data element
// carries the GELF marker, that element's fields into extra. Only keys that
// start with an underscore and are not _id are copied. The marked element is
// removed from ev.Data.
func (f *GelfFormatter) AddCustomFields(ev *logevent.Event, extra map[string]interface{}) {
	for k, v := range f.staticFields {
		if isCustomField(k) {
			extra[k] = v
		}
	}

	if len(ev.Data) == 0 {
		return
	}
	fields, ok := logevent.HasMarker(ev.Data[0])
	if !ok {
		return
	}
	delete(fields, logevent.MarkerKey)

	for k, v := range fields {
		if isCustomField(k) {
			extra[k] = v
		}
	}

	ev.Data = ev.Data[1:]
}

func isCustomField(key string) bool {
	return strings.HasPrefix(key, "_") && key != reservedID
}

// Marshal serializes msg to JSON with its extra fields flattened into the
// top-level object.
func Marshal(msg *gelf.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.MarshalJSONBuf(&buf); err != nil {
		return nil, fmt.Errorf("failed to marshal GELF message: %w", err)
	}
	return buf.Bytes(), nil
}

// truncateString truncates a string to the specified maximum length.
// If the string is longer than maxLength, it will be truncated and "...truncated" will be appended.
func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}

	const ellipsis = "...truncated"

	if maxLength <= len(ellipsis) {
		return s[:maxLength]
	}

	return s[:maxLength-len(ellipsis)] + ellipsis
}
