package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsValidate(t *testing.T) {
	assert.Empty(t, NewOptions().Validate())

	o := NewOptions()
	o.Format = "xml"
	o.Level = "loud"
	assert.Len(t, o.Validate(), 2)
}
