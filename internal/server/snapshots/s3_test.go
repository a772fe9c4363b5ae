package snapshots

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	srvconfig "github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	mu     sync.Mutex
	data   map[string][]byte
	putErr error
	getErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.data[*in.Bucket+"/"+*in.Key] = b
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	b, ok := f.data[*in.Bucket+"/"+*in.Key]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestNewS3Store_AppliesConfig(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-west-1", lo.Region)
		require.NotNil(t, lo.Credentials)
		creds, err := lo.Credentials.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "minio", creds.AccessKeyID)
		assert.Equal(t, "minio-secret", creds.SecretAccessKey)
		return aws.Config{}, nil
	}

	fake := newFakeObjects()
	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectAPI {
		for _, fn := range optFns {
			fn(&opts)
		}
		return fake
	}

	st, err := NewS3Store(context.Background(), srvconfig.S3Config{
		Bucket:       "gk",
		ObjectKey:    "deny.json",
		Region:       "eu-west-1",
		BaseEndpoint: "http://localhost:9000",
		AccessKey:    "minio",
		SecretKey:    "minio-secret",
	})
	require.NoError(t, err)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://localhost:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)
	assert.Same(t, fake, st.client)
}

func TestNewS3Store_LoadError(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}

	_, err := NewS3Store(context.Background(), srvconfig.S3Config{Bucket: "b", Region: "us-east-1"})
	assert.EqualError(t, err, "load-fail")
}

func TestS3Store_SaveLoad(t *testing.T) {
	fake := newFakeObjects()
	st := &S3Store{client: fake, bucket: "gk", key: "deny.json"}
	ctx := context.Background()

	_, err := st.Load(ctx)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []auth.DenylistEntry{{JTI: "a", ExpiresAt: exp}, {JTI: "b", ExpiresAt: exp.Add(time.Hour)}}
	require.NoError(t, st.Save(ctx, in, time.Now()))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestS3Store_Errors(t *testing.T) {
	fake := newFakeObjects()
	fake.putErr = errors.New("denied")
	fake.getErr = errors.New("boom")
	st := &S3Store{client: fake, bucket: "gk", key: "deny.json"}

	err := st.Save(context.Background(), nil, time.Now())
	assert.ErrorContains(t, err, "denied")

	_, err = st.Load(context.Background())
	assert.ErrorContains(t, err, "boom")
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestS3Store_CorruptDocument(t *testing.T) {
	fake := newFakeObjects()
	fake.data["gk/deny.json"] = []byte("{not json")
	st := &S3Store{client: fake, bucket: "gk", key: "deny.json"}

	_, err := st.Load(context.Background())
	assert.ErrorContains(t, err, "decode snapshot")
}

func TestRunner_RestoreAndSave(t *testing.T) {
	clock := timex.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := &S3Store{client: newFakeObjects(), bucket: "gk", key: "deny.json"}
	ctx := context.Background()

	src := auth.NewMemoryDenylist(clock)
	require.NoError(t, src.Revoke(ctx, "jti-1", clock.Now().Add(time.Hour)))

	r := NewRunner(store, src, clock, logging.Nop())
	n, err := r.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, r.SaveNow(ctx))

	dst := auth.NewMemoryDenylist(clock)
	n, err = NewRunner(store, dst, clock, logging.Nop()).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, _ := dst.IsRevoked(ctx, "jti-1")
	assert.True(t, ok)
}

func TestRunner_RunSavesOnShutdown(t *testing.T) {
	fake := newFakeObjects()
	store := &S3Store{client: fake, bucket: "gk", key: "deny.json"}
	r := NewRunner(store, auth.NewMemoryDenylist(nil), nil, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	fake.mu.Lock()
	_, ok := fake.data["gk/deny.json"]
	fake.mu.Unlock()
	assert.True(t, ok)
}
