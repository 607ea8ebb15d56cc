package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityStamp(t *testing.T) {
	f := OutboundFrame{Type: FrameMessage, Text: "hi", SessionID: "stale"}

	got := Identity{DeviceID: "device_1"}.Stamp(f)
	assert.Equal(t, "", got.SessionID)
	assert.Equal(t, "device_1", got.DeviceID)

	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","text":"hi","device_id":"device_1"}`, string(b))
}
