package evict

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/s3client"
	"github.com/thannaske/s3sizer/pkg/s3client/s3test"
)

func TestEvictLargest(t *testing.T) {
	api := s3test.New("data",
		models.Object{Key: "a", Size: 5},
		models.Object{Key: "b", Size: 20},
		models.Object{Key: "c", Size: 3},
	)
	e := New(s3client.NewWithAPI(api), nil)

	got, err := e.EvictLargest(context.Background(), "data")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.Object{Key: "b", Size: 20}, *got)
	assert.Equal(t, []string{"b"}, api.Deleted)
}

func TestEvictLargest_EmptyBucket(t *testing.T) {
	api := s3test.New("data")
	e := New(s3client.NewWithAPI(api), nil)

	got, err := e.EvictLargest(context.Background(), "data")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, api.Deleted)
}

func TestEvictLargest_Repeated(t *testing.T) {
	api := s3test.New("data",
		models.Object{Key: "a", Size: 5},
		models.Object{Key: "b", Size: 20},
	)
	e := New(s3client.NewWithAPI(api), nil)
	ctx := context.Background()

	var evicted []string
	for i := 0; i < 4; i++ {
		got, err := e.EvictLargest(ctx, "data")
		require.NoError(t, err)
		if got != nil {
			evicted = append(evicted, got.Key)
		}
	}
	assert.Equal(t, []string{"b", "a"}, evicted)
	assert.Equal(t, []string{"b", "a"}, api.Deleted)
}

func TestLargest_TieGoesToFirstListed(t *testing.T) {
	api := s3test.New("data",
		models.Object{Key: "x", Size: 7},
		models.Object{Key: "y", Size: 9},
		models.Object{Key: "z", Size: 9},
	)
	api.PageSize = 1

	got, err := New(s3client.NewWithAPI(api), nil).Largest(context.Background(), "data")
	require.NoError(t, err)
	assert.Equal(t, "y", got.Key)
}

func TestEvictLargest_ListError(t *testing.T) {
	api := s3test.New("data", models.Object{Key: "a", Size: 1})
	api.ListErr = errors.New("NoSuchBucket")

	_, err := New(s3client.NewWithAPI(api), nil).EvictLargest(context.Background(), "data")
	require.ErrorIs(t, err, api.ListErr)
	assert.Empty(t, api.Deleted)
}
