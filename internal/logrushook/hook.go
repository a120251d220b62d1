// Package logrushook forwards logrus entries to the configured appenders.
package logrushook

import (
	"strings"

	"github.com/orgoj/amqpgelf/internal/logevent"
	"github.com/sirupsen/logrus"
)

// CategoryField is the entry field that selects the event category.
const CategoryField = "category"

// Sink receives converted events. *logger.Manager implements it.
type Sink interface {
	Log(ev *logevent.Event)
}

// Hook is a logrus.Hook that turns entries into log events.
type Hook struct {
	sink     Sink
	category string
	levels   []logrus.Level
}

// New returns a hook firing for entries at minLevel or more severe. Entries
// without a category field are logged under category.
func New(sink Sink, category string, minLevel logrus.Level) *Hook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &Hook{sink: sink, category: category, levels: levels}
}

func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

// Fire converts the entry and passes it to the sink. Entry fields become
// GELF additional fields.
func (h *Hook) Fire(entry *logrus.Entry) error {
	ev := &logevent.Event{
		Time:     entry.Time,
		Level:    convertLevel(entry.Level),
		Category: h.category,
	}

	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		if k == CategoryField {
			if s, ok := v.(string); ok && s != "" {
				ev.Category = s
			}
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		if !strings.HasPrefix(k, "_") {
			k = "_" + k
		}
		fields[k] = v
	}

	if len(fields) > 0 {
		ev.Data = append(ev.Data, logevent.Fields(fields))
	}
	ev.Data = append(ev.Data, entry.Message)

	h.sink.Log(ev)
	return nil
}

func convertLevel(l logrus.Level) logevent.Level {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel:
		return logevent.FATAL
	case logrus.ErrorLevel:
		return logevent.ERROR
	case logrus.WarnLevel:
		return logevent.WARN
	case logrus.InfoLevel:
		return logevent.INFO
	case logrus.DebugLevel:
		return logevent.DEBUG
	default:
		return logevent.TRACE
	}
}
