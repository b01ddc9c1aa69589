package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/staleguard/internal/executor"
)

type nopAdapter struct{}

func (nopAdapter) Execute(context.Context, executor.Task) (executor.Result, error) {
	return executor.Result{}, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register("command", nopAdapter{})
	r.Register("probe-command", nopAdapter{})

	adapter, ok := r.Adapter("command")
	assert.True(t, ok)
	assert.NotNil(t, adapter)

	_, ok = r.Adapter("never-registered")
	assert.False(t, ok)

	assert.Equal(t, []string{"command", "probe-command"}, r.Kinds())
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := New()
	r.Register("command", nopAdapter{})
	require.Panics(t, func() {
		r.Register("command", nopAdapter{})
	})
}
