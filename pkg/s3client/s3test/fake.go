// Package s3test provides an in-memory S3 API for tests.
package s3test

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/thannaske/s3sizer/pkg/models"
)

// FakeAPI serves ListObjectsV2 from an ordered object list, PageSize objects
// per page, and records DeleteObject calls.
type FakeAPI struct {
	mu       sync.Mutex
	objects  map[string][]models.Object
	PageSize int

	// ListErr, when set, is returned by ListObjectsV2.
	ListErr error
	// ListCalls counts ListObjectsV2 calls.
	ListCalls int
	// Deleted records deleted keys in order.
	Deleted []string
}

// New creates a fake holding objs in bucket, in listing order.
func New(bucket string, objs ...models.Object) *FakeAPI {
	f := &FakeAPI{objects: make(map[string][]models.Object), PageSize: 1000}
	f.objects[bucket] = append([]models.Object(nil), objs...)
	return f
}

// Put adds or replaces objects. With no objects it only creates bucket.
func (f *FakeAPI) Put(bucket string, objs ...models.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.objects[bucket]
	for _, obj := range objs {
		i := slices.IndexFunc(list, func(o models.Object) bool { return o.Key == obj.Key })
		if i >= 0 {
			list[i] = obj
		} else {
			list = append(list, obj)
		}
	}
	f.objects[bucket] = list
}

// Objects returns the current contents of bucket.
func (f *FakeAPI) Objects(bucket string) []models.Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Object(nil), f.objects[bucket]...)
}

// ListObjectsV2 implements s3.ListObjectsV2APIClient.
func (f *FakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, errors.New("invalid continuation token")
		}
		start = n
	}

	objs := f.objects[aws.ToString(in.Bucket)]
	end := start + f.PageSize
	if end > len(objs) {
		end = len(objs)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(objs))}
	for _, o := range objs[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(o.Key), Size: aws.Int64(o.Size)})
	}
	if end < len(objs) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// DeleteObject implements s3client.API.
func (f *FakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	f.Deleted = append(f.Deleted, key)
	objs := f.objects[bucket]
	for i, o := range objs {
		if o.Key == key {
			f.objects[bucket] = append(objs[:i:i], objs[i+1:]...)
			break
		}
	}
	return &s3.DeleteObjectOutput{}, nil
}
