package noop

import (
	"context"
	"testing"

	"github.com/dukex/playbook/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Execute(t *testing.T) {
	t.Parallel()

	result, err := NewHandler().Execute(context.Background(), map[string]any{"output": map[string]any{"ok": true}}, protocol.Input{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result.Output)

	result, err = NewHandler().DryRun(context.Background(), nil, protocol.Input{})
	require.NoError(t, err)
	assert.Empty(t, result.Output)
}
