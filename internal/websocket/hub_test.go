package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/princekumarofficial/transcode-service/internal/logger"
	"github.com/princekumarofficial/transcode-service/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	h, _ := runHub(t)
	a := NewClient(nil, "a", h)
	b := NewClient(nil, "b", h)
	require.True(t, h.RegisterClient(a))
	require.True(t, h.RegisterClient(b))

	h.Broadcast([]byte(`{"type":"transcode.done"}`))

	assert.JSONEq(t, `{"type":"transcode.done"}`, string(receive(t, a)))
	assert.JSONEq(t, `{"type":"transcode.done"}`, string(receive(t, b)))
	assert.Equal(t, 2, h.ClientCount())
}

func TestHub_Publish(t *testing.T) {
	h, _ := runHub(t)
	c := NewClient(nil, "c", h)
	require.True(t, h.RegisterClient(c))

	require.NoError(t, h.Publish(context.Background(), types.EventSkipped, &types.JobEvent{RecordID: "r1", Reason: "leased"}))

	var ev struct {
		Type string         `json:"type"`
		Data types.JobEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(receive(t, c), &ev))
	assert.Equal(t, "transcode.skipped", ev.Type)
	assert.Equal(t, "leased", ev.Data.Reason)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h, _ := runHub(t)
	c := NewClient(nil, "c", h)
	require.True(t, h.RegisterClient(c))

	h.UnregisterClient(c)

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
	assert.Zero(t, h.ClientCount())
}

func TestHub_StoppedHubRejectsClients(t *testing.T) {
	h, cancel := runHub(t)
	cancel()
	<-h.done

	assert.False(t, h.RegisterClient(NewClient(nil, "late", h)))
	h.UnregisterClient(NewClient(nil, "late", h))
}
