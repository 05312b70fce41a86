package store

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQueryBuildersDoNotAlias(t *testing.T) {
	base := Collection("conversations").Where("participants", OpArrayContains, "a")
	first := base.OrderBy("lastMessage.timestamp", Desc)
	second := base.Where("kind", OpEqual, "x")

	assert.Len(t, base.Filters, 1)
	assert.Len(t, first.Filters, 1)
	assert.Len(t, first.Orders, 1)
	assert.Len(t, second.Filters, 2)
	assert.Empty(t, second.Orders)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "nil", err: nil, expected: nil},
		{name: "not found", err: status.Error(codes.NotFound, "x"), expected: ErrNotFound},
		{name: "already exists", err: status.Error(codes.AlreadyExists, "x"), expected: ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapError(tt.err))
		})
	}

	other := status.Error(codes.PermissionDenied, "nope")
	assert.Equal(t, other, mapError(other))
}

func TestTranslate(t *testing.T) {
	assert.Equal(t, firestore.ServerTimestamp, translate(ServerTimestamp))
	assert.Equal(t, "plain", translate("plain"))

	nested := translateMap(map[string]any{
		"lastMessage": map[string]any{"timestamp": ServerTimestamp, "content": ""},
	})
	inner := nested["lastMessage"].(map[string]any)
	assert.Equal(t, firestore.ServerTimestamp, inner["timestamp"])
	assert.Equal(t, "", inner["content"])
}

func TestBucketPublicURL(t *testing.T) {
	b := NewBucket(nil, "contractmatch.appspot.com")
	assert.Equal(t,
		"https://firebasestorage.googleapis.com/v0/b/contractmatch.appspot.com/o/profilePhotos%2Fu1?alt=media",
		b.PublicURL("profilePhotos/u1"),
	)
}
