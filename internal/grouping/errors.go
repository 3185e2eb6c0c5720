package grouping

import "fmt"

// InvalidVectorError is returned when a feature vector cannot take part in a
// cosine similarity computation.
type InvalidVectorError struct {
	Index  int
	Reason string
}

func (e *InvalidVectorError) Error() string {
	return fmt.Sprintf("invalid feature vector at index %d: %s", e.Index, e.Reason)
}

// MalformedTimestampError is returned when a record's timestamp is missing or
// does not parse as YYYY:MM:DD HH:MM:SS.
type MalformedTimestampError struct {
	Index int
	Key   string
	Value string
	Err   error // nil when the key is missing
}

func (e *MalformedTimestampError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("record %d: missing timestamp field %q", e.Index, e.Key)
	}
	return fmt.Sprintf("record %d: malformed timestamp %q in field %q: %v", e.Index, e.Value, e.Key, e.Err)
}

func (e *MalformedTimestampError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an out-of-range grouping option.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
