// Package secret holds sensitive strings such as connection credentials,
// preventing them leaking into logs or trace events.
package secret

type String string

const redacted = "REDACTED"

// String implements fmt.Stringer and redacts the sensitive value.
func (s String) String() string {
	return redacted
}

// GoString implements fmt.GoStringer and redacts the sensitive value.
func (s String) GoString() string {
	return redacted
}

// Raw returns the sensitive value as a string.
func (s String) Raw() string {
	return string(s)
}

func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
