package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/docparser/constants"
)

func TestEnumValidator(t *testing.T) {
	v := EnumValidator(constants.DocumentStatuses...)
	for _, s := range constants.DocumentStatuses {
		assert.NoError(t, v(s))
	}
	assert.Error(t, v("converting"))
	assert.Error(t, v(""))

	pages := EnumValidator(constants.PageStatuses...)
	assert.NoError(t, pages("pending"))
	assert.Error(t, pages("queued"))
}
