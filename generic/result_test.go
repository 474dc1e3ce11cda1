package generic

import (
	"errors"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	assert := assert_.New(t)

	ok := NewResult(123, nil)
	assert.True(ok.IsOk())
	value, err := ok.Parts()
	assert.NoError(err)
	assert.Equal(123, value)
	assert.Equal(123, ok.Unwrap())

	failed := NewResult(0, errors.New("boom"))
	assert.True(failed.IsErr())
	assert.False(failed.IsOk())
	assert.Equal(7, failed.UnwrapOr(7))
	assert.Panics(func() { failed.Unwrap() })

	v, err := Err[string](errors.New("nope")).Parts()
	assert.Equal("", v)
	assert.EqualError(err, "nope")
	assert.NotPanics(func() { Unwrap_(nil) })
}
