package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to DocumentStatus
		want     bool
	}{
		{DocumentStatusQueued, DocumentStatusProcessing, true},
		{DocumentStatusQueued, DocumentStatusFailed, true},
		{DocumentStatusQueued, DocumentStatusCanceled, true},
		{DocumentStatusQueued, DocumentStatusDone, false},
		{DocumentStatusProcessing, DocumentStatusDone, true},
		{DocumentStatusProcessing, DocumentStatusFailed, true},
		{DocumentStatusProcessing, DocumentStatusCanceled, true},
		{DocumentStatusProcessing, DocumentStatusQueued, false},
		{DocumentStatusDone, DocumentStatusProcessing, false},
		{DocumentStatusFailed, DocumentStatusDone, false},
		{DocumentStatusCanceled, DocumentStatusQueued, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, DocumentStatusQueued.Terminal())
	assert.False(t, DocumentStatusProcessing.Terminal())
	assert.True(t, DocumentStatusDone.Terminal())
	assert.True(t, DocumentStatusFailed.Terminal())
	assert.True(t, DocumentStatusCanceled.Terminal())

	for _, e := range []EventType{EventDone, EventCanceled, EventError} {
		assert.True(t, e.Terminal(), e)
	}
	for _, e := range []EventType{EventInitial, EventStatus, EventPageDone, EventPageError, EventKeepalive} {
		assert.False(t, e.Terminal(), e)
	}
}

func TestIsAllowedExt(t *testing.T) {
	assert.True(t, IsAllowedExt(".pdf"))
	assert.True(t, IsAllowedExt("PDF"))
	assert.True(t, IsAllowedExt(".Pdf"))
	assert.False(t, IsAllowedExt(".png"))
	assert.False(t, IsAllowedExt(""))
}
