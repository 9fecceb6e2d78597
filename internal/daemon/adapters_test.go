package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cmdb/internal/config"
	"github.com/yairfalse/cmdb/internal/provider"
)

func TestBuildAdapters(t *testing.T) {
	provider.Clear()
	defer provider.Clear()

	cfg := &config.Config{
		Accounts: []config.AccountConfig{
			{Type: config.TypeAlibaba, Name: "ali-shop", AccessKeyID: "LTAI", AccessKeySecret: "secret"},
			{Type: config.TypeAWS, Name: "aws-prod", AccessKeyID: "AKIA", AccessKeySecret: "secret", HomeRegion: "eu-west-1"},
		},
		Crawl: config.CrawlConfig{RetryAttempts: 2, RetryDelay: time.Second},
	}

	adapters, err := BuildAdapters(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, "ali-shop", adapters[0].Name())
	assert.Equal(t, "aws-prod", adapters[1].Name())
	assert.Equal(t, []string{"ali-shop", "aws-prod"}, provider.Names())
}

func TestBuildAdapters_Only(t *testing.T) {
	defer provider.Clear()

	cfg := &config.Config{
		Accounts: []config.AccountConfig{
			{Type: config.TypeAlibaba, Name: "ali-shop", AccessKeyID: "LTAI", AccessKeySecret: "secret"},
			{Type: config.TypeAlibaba, Name: "ali-dev", AccessKeyID: "LTAI", AccessKeySecret: "secret"},
		},
	}

	adapters, err := BuildAdapters(context.Background(), cfg, "ali-dev")
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	assert.Equal(t, "ali-dev", adapters[0].Name())
	assert.Equal(t, []string{"ali-dev", "ali-shop"}, provider.Names(), "every account stays registered")

	_, err = BuildAdapters(context.Background(), cfg, "aws-prod")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrConfiguration)
}

func TestBuildAdapters_ReplacesRegistry(t *testing.T) {
	defer provider.Clear()

	first := &config.Config{Accounts: []config.AccountConfig{
		{Type: config.TypeAlibaba, Name: "ali-old", AccessKeyID: "LTAI", AccessKeySecret: "secret"},
	}}
	_, err := BuildAdapters(context.Background(), first)
	require.NoError(t, err)

	second := &config.Config{Accounts: []config.AccountConfig{
		{Type: config.TypeAlibaba, Name: "ali-new", AccessKeyID: "LTAI", AccessKeySecret: "secret"},
	}}
	_, err = BuildAdapters(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, []string{"ali-new"}, provider.Names())
}

func TestBuildAdapters_Errors(t *testing.T) {
	provider.Clear()
	defer provider.Clear()

	tests := []struct {
		name    string
		account config.AccountConfig
	}{
		{"unknown type", config.AccountConfig{Type: "gcp", Name: "g"}},
		{"alibaba without keys", config.AccountConfig{Type: config.TypeAlibaba, Name: "ali"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Accounts: []config.AccountConfig{tt.account}}
			_, err := BuildAdapters(context.Background(), cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, provider.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.account.Name)
		})
	}
}
