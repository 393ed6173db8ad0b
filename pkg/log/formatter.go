package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// JSONFormatter renders entries as one JSON object per line with ts, level
// and msg keys next to the fields.
type JSONFormatter struct {
	TimestampFormat string
}

func (f *JSONFormatter) Format(e *Entry) ([]byte, error) {
	tf := f.TimestampFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	data := make(map[string]any, len(e.Fields)+3)
	for _, fd := range e.Fields {
		v := fd.Value
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[fd.Key] = v
	}
	data["ts"] = e.Time.UTC().Format(tf)
	data["level"] = e.Level.String()
	data["msg"] = e.Message
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal log entry: %w", err)
	}
	return append(b, '\n'), nil
}

// TextFormatter renders "ts LEVEL msg k=v ..." lines, fields in the order
// they were attached.
type TextFormatter struct {
	TimestampFormat string
}

func (f *TextFormatter) Format(e *Entry) ([]byte, error) {
	tf := f.TimestampFormat
	if tf == "" {
		tf = "2006-01-02T15:04:05.000Z07:00"
	}
	var buf bytes.Buffer
	buf.WriteString(e.Time.Format(tf))
	fmt.Fprintf(&buf, " %-5s %s", e.Level.String(), e.Message)
	for _, fd := range e.Fields {
		switch v := fd.Value.(type) {
		case string:
			if needsQuote(v) {
				fmt.Fprintf(&buf, " %s=%q", fd.Key, v)
				continue
			}
			fmt.Fprintf(&buf, " %s=%s", fd.Key, v)
		default:
			fmt.Fprintf(&buf, " %s=%v", fd.Key, v)
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}
