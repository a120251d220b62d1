// Package layout renders the human-readable text of a log event.
package layout

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/logevent"
)

// Layout maps a log event to its display text.
type Layout func(ev *logevent.Event) string

// New builds the layout selected by spec. A nil spec selects MessagePassThrough.
func New(spec *config.LayoutSpec) (Layout, error) {
	if spec == nil {
		return MessagePassThrough, nil
	}
	switch spec.Type {
	case "", "messagePassThrough":
		return MessagePassThrough, nil
	case "basic":
		return Basic, nil
	case "pattern":
		return Pattern(spec.Pattern)
	default:
		return nil, fmt.Errorf("unknown layout type: %s", spec.Type)
	}
}

// MessagePassThrough renders only the event data.
func MessagePassThrough(ev *logevent.Event) string {
	return FormatData(ev.Data)
}

// Basic renders "[time] [LEVEL] category - message".
func Basic(ev *logevent.Event) string {
	return fmt.Sprintf("[%s] [%s] %s - %s", eventTime(ev).Format(time.RFC3339Nano), ev.Level, ev.Category, FormatData(ev.Data))
}

// FormatData joins log arguments into one string. When the first argument is a
// string and more arguments follow, it is scanned for the verbs %s %d %i %f %j
// %o %O %v and %c, each consuming the next argument, and "%%" collapses to "%".
// Any other '%' is kept as written. Arguments left over are appended separated
// by spaces.
func FormatData(data []interface{}) string {
	if len(data) == 0 {
		return ""
	}
	parts := make([]string, 0, len(data))
	rest := data
	if format, ok := data[0].(string); ok {
		if len(data) == 1 {
			return format
		}
		var used int
		parts = append(parts, substitute(format, data[1:], &used))
		rest = data[1+used:]
	}
	for _, d := range rest {
		parts = append(parts, formatValue(d))
	}
	return strings.Join(parts, " ")
}

// substitute expands the recognised verbs of format from args and reports in
// used how many arguments were consumed. Verbs without a matching argument are
// left untouched.
func substitute(format string, args []interface{}, used *int) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		v := format[i+1]
		switch v {
		case '%':
			b.WriteByte('%')
			i++
		case 's', 'd', 'i', 'f', 'j', 'o', 'O', 'v', 'c':
			if next >= len(args) {
				b.WriteByte('%')
				continue
			}
			b.WriteString(formatVerb(v, args[next]))
			next++
			i++
		default:
			b.WriteByte('%')
		}
	}
	*used = next
	return b.String()
}

func formatVerb(verb byte, arg interface{}) string {
	switch verb {
	case 'd', 'i', 'f':
		n, ok := toNumber(arg)
		if !ok {
			return "NaN"
		}
		if verb == 'i' {
			n = math.Trunc(n)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case 'j':
		b, err := json.Marshal(arg)
		if err != nil {
			return "[Circular]"
		}
		return string(b)
	case 'c':
		return ""
	default:
		return formatValue(arg)
	}
}

func formatValue(d interface{}) string {
	switch v := d.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toNumber(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func eventTime(ev *logevent.Event) time.Time {
	if ev.Time.IsZero() {
		return time.Now()
	}
	return ev.Time
}

// token is one compiled element of a pattern.
type token struct {
	literal   string
	verb      byte
	leftAlign bool
	minWidth  int
	maxWidth  int
}

// Pattern compiles a pattern layout. Supported tokens:
//
//	%d  event time (RFC3339 with milliseconds)
//	%p  level
//	%c  category
//	%m  message data
//	%n  newline
//	%r  event time of day, HH:MM:SS
//	%%  literal percent
//	%[ %]  colour markers, rendered as nothing
//
// Each token accepts an optional width spec such as %5p, %-5p or %5.5p.
func Pattern(pattern string) (Layout, error) {
	tokens, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	return func(ev *logevent.Event) string {
		var b strings.Builder
		for _, t := range tokens {
			if t.verb == 0 {
				b.WriteString(t.literal)
				continue
			}
			b.WriteString(t.pad(t.render(ev)))
		}
		return b.String()
	}, nil
}

func compile(pattern string) ([]token, error) {
	var tokens []token
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, token{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			lit.WriteByte(c)
			continue
		}
		i++
		if i >= len(pattern) {
			return nil, fmt.Errorf("pattern %q ends with a lone '%%'", pattern)
		}

		t := token{}
		if pattern[i] == '-' {
			t.leftAlign = true
			i++
		}
		start := i
		for i < len(pattern) && pattern[i] >= '0' && pattern[i] <= '9' {
			i++
		}
		if i > start {
			t.minWidth, _ = strconv.Atoi(pattern[start:i])
		}
		if i < len(pattern) && pattern[i] == '.' {
			i++
			start = i
			for i < len(pattern) && pattern[i] >= '0' && pattern[i] <= '9' {
				i++
			}
			if i == start {
				return nil, fmt.Errorf("pattern %q: missing precision after '.'", pattern)
			}
			t.maxWidth, _ = strconv.Atoi(pattern[start:i])
		}
		if i >= len(pattern) {
			return nil, fmt.Errorf("pattern %q: unterminated token", pattern)
		}

		switch v := pattern[i]; v {
		case '%':
			lit.WriteByte('%')
		case '[', ']':
		case 'n':
			lit.WriteByte('\n')
		case 'd', 'p', 'c', 'm', 'r':
			flush()
			t.verb = v
			tokens = append(tokens, t)
		default:
			return nil, fmt.Errorf("pattern %q: unknown token '%%%c'", pattern, v)
		}
	}
	flush()
	return tokens, nil
}

func (t token) render(ev *logevent.Event) string {
	switch t.verb {
	case 'd':
		return eventTime(ev).Format("2006-01-02T15:04:05.000Z07:00")
	case 'p':
		return ev.Level.String()
	case 'c':
		return ev.Category
	case 'm':
		return FormatData(ev.Data)
	case 'r':
		return eventTime(ev).Format("15:04:05")
	}
	return ""
}

func (t token) pad(s string) string {
	if t.maxWidth > 0 && len(s) > t.maxWidth {
		s = s[:t.maxWidth]
	}
	if len(s) >= t.minWidth {
		return s
	}
	fill := strings.Repeat(" ", t.minWidth-len(s))
	if t.leftAlign {
		return s + fill
	}
	return fill + s
}
