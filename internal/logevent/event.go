// internal/logevent/event.go

package logevent

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a log event. Levels are ordered: ALL < TRACE < ... < FATAL < OFF.
type Level int

const (
	ALL Level = iota
	TRACE
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
	OFF
)

var levelNames = [...]string{
	ALL:   "ALL",
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
	OFF:   "OFF",
}

// String returns the upper-case level name.
func (l Level) String() string {
	if l < ALL || l > OFF {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(name string) (Level, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for l, n := range levelNames {
		if n == name {
			return Level(l), nil
		}
	}
	return ALL, fmt.Errorf("invalid log level: %s", name)
}

// MarkerKey identifies a map passed as the first data argument as a set of
// per-event GELF fields.
const MarkerKey = "GELF"

// Event is a single log call as seen by an appender.
type Event struct {
	Time     time.Time // zero when the caller did not stamp the event
	Level    Level
	Category string
	Data     []interface{}
}

// Fields returns a copy of fields carrying the GELF marker, ready to be
// passed as the first data argument of an event.
func Fields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[MarkerKey] = true
	return out
}

// HasMarker reports whether v is a field map carrying a truthy GELF marker.
func HasMarker(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return m, truthy(m[MarkerKey])
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// Clone returns a copy of the event with its own Data slice. Field maps
// inside Data are copied one level deep so that marker removal by one
// consumer is not observed by another.
func (e *Event) Clone() *Event {
	c := *e
	if e.Data != nil {
		c.Data = make([]interface{}, len(e.Data))
		for i, d := range e.Data {
			if m, ok := d.(map[string]interface{}); ok {
				cp := make(map[string]interface{}, len(m))
				for k, v := range m {
					cp[k] = v
				}
				d = cp
			}
			c.Data[i] = d
		}
	}
	return &c
}
