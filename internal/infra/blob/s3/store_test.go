package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/alphadevx/alpha-sub000/internal/blob/core"
)

type object struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

// fakeAPI is an in-memory bucket. Listings are split into pages of pageSize.
type fakeAPI struct {
	mu       sync.Mutex
	objects  map[string]object
	pageSize int
	failPut  error
}

func newFake() *fakeAPI { return &fakeAPI{objects: map[string]object{}, pageSize: 2} }

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(`"etag-` + aws.ToString(in.Key) + `"`),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = object{body: b, contentType: aws.ToString(in.ContentType), metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+f.pageSize, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k].body)))})
	}
	return out, nil
}

func TestPutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	s := NewWithAPI(newFake(), "backups")
	require.Equal(t, core.DriverS3, s.Driver())

	info, err := s.Put(ctx, "run/Note.jsonl", strings.NewReader("line\n"), core.PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"rows": "1"}})
	require.NoError(t, err)
	require.Equal(t, int64(5), info.Size)
	require.Equal(t, "etag-run/Note.jsonl", info.ETag)
	require.Equal(t, "1", info.Metadata["rows"])

	_, err = s.Put(ctx, "run/Note.jsonl", strings.NewReader("again"), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)

	got, rc, err := s.Get(ctx, "run/Note.jsonl")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "line\n", string(body))
	require.Equal(t, "application/x-ndjson", got.ContentType)
}

func TestMissingKeysMapToNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewWithAPI(newFake(), "backups")
	_, err := s.Head(ctx, "nope")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = s.Get(ctx, "nope")
	require.ErrorIs(t, err, core.ErrNotFound)
	ok, err := s.Delete(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListFollowsContinuationTokens(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	s := NewWithAPI(api, "backups")
	for _, k := range []string{"r/c", "r/a", "r/b", "other"} {
		_, err := s.Put(ctx, k, strings.NewReader(k), core.PutOptions{})
		require.NoError(t, err)
	}
	list, err := s.List(ctx, "r/")
	require.NoError(t, err)
	keys := make([]string, 0, len(list))
	for _, i := range list {
		keys = append(keys, i.Key)
	}
	require.Equal(t, []string{"r/a", "r/b", "r/c"}, keys)

	ok, err := s.Delete(ctx, "r/a")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPutSurfacesBackendErrors(t *testing.T) {
	api := newFake()
	api.failPut = errors.New("throttled")
	s := NewWithAPI(api, "backups")
	_, err := s.Put(context.Background(), "k", strings.NewReader(""), core.PutOptions{})
	require.ErrorContains(t, err, "throttled")
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	s, err := New(context.Background(), Config{Bucket: "b", AccessKeyID: "AKIA", SecretAccessKey: "secret", Endpoint: "http://127.0.0.1:9000", PathStyle: true})
	require.NoError(t, err)
	require.Equal(t, "b", s.bucket)
}
