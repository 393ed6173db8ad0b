package log

import "time"

// Field is a single structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a Field from any value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Str creates a string Field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int Field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 Field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 creates a uint64 Field.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Bool creates a bool Field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a Field rendered as a Go duration string.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Any is an alias of F kept for call-site readability.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Err creates an "error" Field. A nil error yields a nil value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags an entry with the emitting component.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }
