package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-service/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, Channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client)
	err = p.Publish(ctx, types.EventDone, &types.JobEvent{
		AttemptID: "a1",
		Table:     "booms",
		RecordID:  "r1",
		Column:    "video_url",
		PublicURL: "https://host/m.mp4",
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var ev struct {
			Type string         `json:"type"`
			Data types.JobEvent `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, "transcode.done", ev.Type)
		assert.Equal(t, "r1", ev.Data.RecordID)
		assert.Equal(t, "video_url", ev.Data.Column)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), types.EventFailed, &types.JobEvent{}))
}

func TestRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() {
		done <- Relay(ctx, client, func(b []byte) {
			select {
			case got <- b:
			default:
			}
		})
	}()

	// Publish until the relay's subscription is live.
	p := NewRedisPublisher(client)
	var payload []byte
	deadline := time.After(2 * time.Second)
loop:
	for {
		require.NoError(t, p.Publish(ctx, types.EventFailed, &types.JobEvent{RecordID: "r9"}))
		select {
		case payload = <-got:
			break loop
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("relay delivered nothing")
		}
	}
	assert.Contains(t, string(payload), `"record_id":"r9"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
