package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thannaske/s3sizer/pkg/config"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0 bytes"},
		{19, "19 bytes"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024 * 1024, "3.00 TB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.in))
	}
}

func TestResolveMonth(t *testing.T) {
	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	y, m, err := resolveMonth(jan, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2024, y)
	assert.Equal(t, 12, m)

	oct := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)
	y, m, err = resolveMonth(oct, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2025, y)
	assert.Equal(t, 9, m)

	y, m, err = resolveMonth(oct, 2023, 0)
	require.NoError(t, err)
	assert.Equal(t, 2023, y)
	assert.Equal(t, 10, m)

	_, _, err = resolveMonth(oct, 2023, 13)
	require.Error(t, err)
}

func TestBucketArg(t *testing.T) {
	cfg = &config.Config{}
	_, err := bucketArg(nil)
	require.Error(t, err)

	cfg.Bucket = "configured"
	b, err := bucketArg(nil)
	require.NoError(t, err)
	assert.Equal(t, "configured", b)

	b, err = bucketArg([]string{"explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", b)
}
