package s3client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/s3client/s3test"
)

func TestListObjects_AllPages(t *testing.T) {
	var objs []models.Object
	for i := 0; i < 25; i++ {
		objs = append(objs, models.Object{Key: fmt.Sprintf("k%02d", i), Size: int64(i)})
	}
	api := s3test.New("data", objs...)
	api.PageSize = 10

	var seen []models.Object
	err := NewWithAPI(api).ListObjects(context.Background(), "data", func(o models.Object) error {
		seen = append(seen, o)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, objs, seen)
	assert.Equal(t, 3, api.ListCalls)
}

func TestListObjects_CallbackErrorStops(t *testing.T) {
	api := s3test.New("data", models.Object{Key: "a"}, models.Object{Key: "b"})
	stop := errors.New("stop")

	calls := 0
	err := NewWithAPI(api).ListObjects(context.Background(), "data", func(models.Object) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestListObjects_WrapsAPIError(t *testing.T) {
	api := s3test.New("data")
	api.ListErr = errors.New("access denied")

	err := NewWithAPI(api).ListObjects(context.Background(), "data", func(models.Object) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://data")
	assert.ErrorIs(t, err, api.ListErr)
}

func TestDeleteObject(t *testing.T) {
	api := s3test.New("data", models.Object{Key: "a", Size: 1}, models.Object{Key: "b", Size: 2})

	require.NoError(t, NewWithAPI(api).DeleteObject(context.Background(), "data", "a"))
	assert.Equal(t, []string{"a"}, api.Deleted)
	assert.Equal(t, []models.Object{{Key: "b", Size: 2}}, api.Objects("data"))
}
