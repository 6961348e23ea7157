package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestString_NeverLeaks(t *testing.T) {
	s := String("hunter2")

	assert.Check(t, cmp.Equal(fmt.Sprintf("%s", s), "REDACTED"))
	assert.Check(t, cmp.Equal(fmt.Sprintf("%v", s), "REDACTED"))
	assert.Check(t, cmp.Equal(fmt.Sprintf("%#v", s), "REDACTED"))

	b, err := json.Marshal(s)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(string(b), `"REDACTED"`))
}

func TestString_RawIsExplicit(t *testing.T) {
	s := String("hunter2")
	assert.Check(t, cmp.Equal(s.Raw(), "hunter2"))
}
