package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"instantlly/internal/models"
)

func TestConversation_AddNoWrap(t *testing.T) {
	c := newConversation("dm:bob", 10)

	for i := 0; i < 5; i++ {
		c.Add(models.Message{SenderID: "alice", Content: fmt.Sprintf("msg %d", i)})
	}

	if len(c.Records) != 5 {
		t.Errorf("expected 5 records, got %d", len(c.Records))
	}

	recs := c.Last(2)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[1].Content != "msg 4" {
		t.Errorf("expected last msg 'msg 4', got '%s'", recs[1].Content)
	}
}

func TestConversation_AddWrap(t *testing.T) {
	c := newConversation("dm:bob", 3)

	for i := 0; i < 4; i++ {
		c.Add(models.Message{SenderID: "alice", Content: fmt.Sprintf("msg %d", i)})
	}

	// msg 0 is overwritten, order stays chronological
	recs := c.Last(10)
	expected := []string{"msg 1", "msg 2", "msg 3"}
	require.Len(t, recs, len(expected))
	for i, exp := range expected {
		if recs[i].Content != exp {
			t.Errorf("index %d: expected '%s', got '%s'", i, exp, recs[i].Content)
		}
	}

	recs = c.Last(2)
	require.Equal(t, "msg 2", recs[0].Content)
	require.Equal(t, "msg 3", recs[1].Content)
}

func TestConversation_Empty(t *testing.T) {
	c := newConversation("dm:bob", 3)
	require.Empty(t, c.Last(5))
	require.False(t, c.Update(func(models.Message) bool { return true }, func(*models.Message) {}))
}

func TestKey(t *testing.T) {
	require.Equal(t, "dm:bob", Key("alice", models.Message{SenderID: "alice", ReceiverID: "bob"}))
	require.Equal(t, "dm:bob", Key("alice", models.Message{SenderID: "bob", ReceiverID: "alice"}))
	require.Equal(t, "group:g1", Key("alice", models.Message{SenderID: "bob", GroupID: "g1"}))

	require.Equal(t, "dm:bob", ParseKey("bob"))
	require.Equal(t, "group:g1", ParseKey("group:g1"))
}

func TestConversations_MarkStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	convs := New(ctx, 10)

	convs.Add("alice", models.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi", Status: models.StatusSent})
	convs.Add("alice", models.Message{ID: "m2", SenderID: "bob", ReceiverID: "alice", Content: "hey"})

	require.True(t, convs.MarkStatus("m1", models.StatusDelivered))
	require.False(t, convs.MarkStatus("unknown", models.StatusDelivered))

	msgs := convs.Last(DirectKey("bob"), 10)
	require.Len(t, msgs, 2)
	require.Equal(t, models.StatusDelivered, msgs[0].Status)

	// never downgrade
	require.True(t, convs.MarkStatus("m1", models.StatusRead))
	require.True(t, convs.MarkStatus("m1", models.StatusSent))
	require.Equal(t, models.StatusRead, convs.Last(DirectKey("bob"), 2)[0].Status)
}

func TestConversations_Reconcile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	convs := New(ctx, 10)

	convs.Add("alice", models.Message{ID: "local-1", LocalID: "local-1", SenderID: "alice", ReceiverID: "bob", Content: "draft", Status: models.StatusSent})
	convs.Add("alice", models.Message{ID: "srv-9", LocalID: "local-1", SenderID: "alice", ReceiverID: "bob", Content: "draft", Status: models.StatusDelivered})

	msgs := convs.Last(DirectKey("bob"), 10)
	require.Len(t, msgs, 1)
	require.Equal(t, "srv-9", msgs[0].ID)
	require.Equal(t, models.StatusDelivered, msgs[0].Status)

	require.True(t, convs.MarkStatus("srv-9", models.StatusRead))
	require.Empty(t, convs.Last(DirectKey("carol"), 10))
}
