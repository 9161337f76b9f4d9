package streams

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClient(rdb), mr
}

func testValues(session string) map[string]string {
	return map[string]string{
		"event_type": "task_created",
		"session_id": session,
		"timestamp":  "2025-06-15T10:30:00Z",
		"mode":       "normal",
	}
}

func TestEnsureStreamCreatesOnce(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureStream(ctx, "asdlc:events"))
	assert.True(t, mr.Exists("asdlc:events"))

	// Second call is a no-op.
	require.NoError(t, client.EnsureStream(ctx, "asdlc:events"))
}

func TestCreateGroupReportsExisting(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	created, err := client.CreateGroup(ctx, "asdlc:events", "development-handlers", "0")
	require.NoError(t, err)
	assert.True(t, created)

	// BUSYGROUP is success, not an error.
	created, err = client.CreateGroup(ctx, "asdlc:events", "development-handlers", "0")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestInitializeGroups(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	results, err := client.InitializeGroups(ctx, "asdlc:events", []string{"development-handlers", "orchestrator-handlers"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		"development-handlers":  true,
		"orchestrator-handlers": true,
	}, results)

	results, err = client.InitializeGroups(ctx, "asdlc:events", []string{"development-handlers"})
	require.NoError(t, err)
	assert.False(t, results["development-handlers"])
}

func TestPublishAndReadGroup(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateGroup(ctx, "asdlc:events", "g1", "0")
	require.NoError(t, err)

	id, err := client.Publish(ctx, "asdlc:events", testValues("sess-1"), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	messages, err := client.ReadGroup(ctx, "asdlc:events", "g1", "c1", 10, -1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, id, messages[0].ID)
	assert.Equal(t, "sess-1", messages[0].Values["session_id"])

	// Entries are delivered once per group.
	messages, err = client.ReadGroup(ctx, "asdlc:events", "g1", "c1", 10, -1)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAck(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateGroup(ctx, "asdlc:events", "g1", "0")
	require.NoError(t, err)
	id, err := client.Publish(ctx, "asdlc:events", testValues("sess-1"), 0)
	require.NoError(t, err)

	_, err = client.ReadGroup(ctx, "asdlc:events", "g1", "c1", 10, -1)
	require.NoError(t, err)

	acked, err := client.Ack(ctx, "asdlc:events", "g1", id)
	require.NoError(t, err)
	assert.True(t, acked)

	pending, err := client.Pending(ctx, "asdlc:events", "g1", 100, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingTracksDeliveredEntries(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateGroup(ctx, "asdlc:events", "g1", "0")
	require.NoError(t, err)
	id, err := client.Publish(ctx, "asdlc:events", testValues("sess-1"), 0)
	require.NoError(t, err)

	_, err = client.ReadGroup(ctx, "asdlc:events", "g1", "c1", 10, -1)
	require.NoError(t, err)

	pending, err := client.Pending(ctx, "asdlc:events", "g1", 100, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].MessageID)
	assert.Equal(t, "c1", pending[0].Consumer)
	assert.GreaterOrEqual(t, pending[0].DeliveryCount, int64(1))
}

func TestClaimTransfersOwnership(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateGroup(ctx, "asdlc:events", "g1", "0")
	require.NoError(t, err)
	id, err := client.Publish(ctx, "asdlc:events", testValues("sess-1"), 0)
	require.NoError(t, err)

	// Delivered to the dead consumer, never acknowledged.
	_, err = client.ReadGroup(ctx, "asdlc:events", "g1", "dead", 10, -1)
	require.NoError(t, err)

	claimed, err := client.Claim(ctx, "asdlc:events", "g1", "rescuer", 0, []string{id})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, "sess-1", claimed[0].Values["session_id"])

	pending, err := client.Pending(ctx, "asdlc:events", "g1", 100, "rescuer")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].MessageID)
}

func TestClaimEmptyIDs(t *testing.T) {
	client, _ := newTestClient(t)
	claimed, err := client.Claim(context.Background(), "asdlc:events", "g1", "rescuer", time.Minute, nil)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestInfoMissingStream(t *testing.T) {
	client, _ := newTestClient(t)

	info, err := client.Info(context.Background(), "no:such:stream")
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Zero(t, info.Length)
	assert.Empty(t, info.Groups)
}

func TestInfoReportsGroups(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateGroup(ctx, "asdlc:events", "g1", "0")
	require.NoError(t, err)
	_, err = client.Publish(ctx, "asdlc:events", testValues("sess-1"), 0)
	require.NoError(t, err)

	info, err := client.Info(ctx, "asdlc:events")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, int64(1), info.Length)
	require.Len(t, info.Groups, 1)
	assert.Equal(t, "g1", info.Groups[0].Name)
}

func TestPendingCountSoftFailsToZero(t *testing.T) {
	client, _ := newTestClient(t)
	// No stream, no group: the backend errors, the count is zero.
	assert.Zero(t, client.PendingCount(context.Background(), "no:such:stream", "g1"))
}
