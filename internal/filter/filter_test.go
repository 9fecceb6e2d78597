package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cmdb/pkg/inventory"
)

func TestIncludesKind(t *testing.T) {
	f := New(nil, nil, nil)
	assert.True(t, f.IncludesKind(inventory.KindServer))

	f = New([]string{inventory.KindUser, inventory.KindBucket}, nil, nil)
	assert.True(t, f.IncludesKind(inventory.KindServer))
	assert.False(t, f.IncludesKind(inventory.KindUser))
	assert.False(t, f.IncludesKind(inventory.KindBucket))
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		include map[string]string
		exclude map[string]string
		tags    map[string]string
		want    bool
	}{
		{"no filters", nil, nil, map[string]string{"env": "prod"}, true},
		{"include match", map[string]string{"env": "prod"}, nil, map[string]string{"env": "prod", "team": "platform"}, true},
		{"include mismatch", map[string]string{"env": "prod"}, nil, map[string]string{"env": "staging"}, false},
		{"include needs all", map[string]string{"env": "prod", "team": "platform"}, nil, map[string]string{"env": "prod"}, false},
		{"exclude match", nil, map[string]string{"env": "dev"}, map[string]string{"env": "dev"}, false},
		{"exclude no match", nil, map[string]string{"env": "dev"}, map[string]string{"env": "prod"}, true},
		{"exclude any", nil, map[string]string{"env": "dev", "temp": "true"}, map[string]string{"env": "prod", "temp": "true"}, false},
		{"include and exclude", map[string]string{"env": "prod"}, map[string]string{"temp": "true"}, map[string]string{"env": "prod", "temp": "true"}, false},
		{"empty tags with include", map[string]string{"env": "prod"}, nil, map[string]string{}, false},
		{"nil tags with exclude", nil, map[string]string{"env": "dev"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(nil, tt.include, tt.exclude).Matches(tt.tags))
		})
	}
}

func TestServers(t *testing.T) {
	servers := []inventory.ServerDetails{
		{ID: "i-1", Tags: map[string]string{"env": "prod"}},
		{ID: "i-2", Tags: map[string]string{"env": "dev"}},
		{ID: "i-3"},
	}

	assert.Len(t, New(nil, nil, nil).Servers(servers), 3)

	got := New(nil, map[string]string{"env": "prod"}, nil).Servers(servers)
	require.Len(t, got, 1)
	assert.Equal(t, "i-1", got[0].ID)

	got = New(nil, nil, map[string]string{"env": "dev"}).Servers(servers)
	assert.Len(t, got, 2)

	assert.Empty(t, New([]string{inventory.KindServer}, nil, nil).Servers(servers))
}

func TestKindCounts(t *testing.T) {
	counts := []inventory.KindCount{
		{Kind: inventory.KindServer, Region: "eu-west-1", Count: 2},
		{Kind: inventory.KindUser, Count: 5},
	}
	assert.Equal(t, counts, New(nil, map[string]string{"env": "prod"}, nil).KindCounts(counts))
	assert.Equal(t, counts[:1], New([]string{inventory.KindUser}, nil, nil).KindCounts(counts))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, New(nil, nil, nil).IsEmpty())
	assert.False(t, New([]string{"user"}, nil, nil).IsEmpty())
	assert.False(t, New(nil, map[string]string{"env": "prod"}, nil).IsEmpty())
	assert.False(t, New(nil, nil, map[string]string{"env": "dev"}).IsEmpty())
}

func TestParseTags(t *testing.T) {
	tags, err := ParseTags([]string{"env=prod", "owner=", "url=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"env": "prod", "owner": "", "url": "a=b"}, tags)

	tags, err = ParseTags(nil)
	require.NoError(t, err)
	assert.Nil(t, tags)

	_, err = ParseTags([]string{"env"})
	assert.Error(t, err)
	_, err = ParseTags([]string{"=prod"})
	assert.Error(t, err)
}
