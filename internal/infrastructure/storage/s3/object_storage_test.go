package s3

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		key  string
		want string
	}{
		{
			name: "aws virtual hosted",
			cfg:  Config{Bucket: "previews", Region: "us-east-1"},
			key:  "link-preview/screenshot-1718000000123.png",
			want: "https://previews.s3.us-east-1.amazonaws.com/link-preview/screenshot-1718000000123.png",
		},
		{
			name: "aws other region",
			cfg:  Config{Bucket: "previews", Region: "eu-central-1"},
			key:  "link-preview/screenshot-1.png",
			want: "https://previews.s3.eu-central-1.amazonaws.com/link-preview/screenshot-1.png",
		},
		{
			name: "custom endpoint path style",
			cfg:  Config{Bucket: "previews", Region: "us-east-1", Endpoint: "http://localhost:4566/", UsePathStyle: true},
			key:  "link-preview/screenshot-1.png",
			want: "http://localhost:4566/previews/link-preview/screenshot-1.png",
		},
		{
			name: "custom endpoint virtual hosted",
			cfg:  Config{Bucket: "previews", Region: "ru-central1", Endpoint: "https://storage.yandexcloud.net"},
			key:  "link-preview/screenshot-1.png",
			want: "https://previews.storage.yandexcloud.net/link-preview/screenshot-1.png",
		},
		{
			name: "escaped key",
			cfg:  Config{Bucket: "previews", Region: "us-east-1"},
			key:  "link preview/screenshot 1.png",
			want: "https://previews.s3.us-east-1.amazonaws.com/link%20preview/screenshot%201.png",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			require.NoError(t, normalizeConfig(&cfg))
			storage := newObjectStorage(nil, cfg)
			assert.Equal(t, tc.want, storage.publicURL(tc.key))
		})
	}
}

func TestGetObjectURL_PublicMode(t *testing.T) {
	cfg := Config{Bucket: "previews", Region: "us-east-1"}
	require.NoError(t, normalizeConfig(&cfg))
	storage := newObjectStorage(nil, cfg)

	got, err := storage.GetObjectURL(context.Background(), " link-preview/screenshot-5.png ")
	require.NoError(t, err)
	assert.Equal(t, "https://previews.s3.us-east-1.amazonaws.com/link-preview/screenshot-5.png", got)

	_, err = storage.GetObjectURL(context.Background(), "  ")
	assert.Error(t, err)
}

func TestNormalizeConfig(t *testing.T) {
	cfg := Config{Bucket: " previews "}
	require.NoError(t, normalizeConfig(&cfg))
	assert.Equal(t, "previews", cfg.Bucket)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, URLModePublic, cfg.URLMode)
	assert.Equal(t, 15*time.Minute, cfg.PresignedTTL)

	assert.Error(t, normalizeConfig(&Config{}))
	assert.Error(t, normalizeConfig(&Config{Bucket: "b", URLMode: "signed"}))
}
