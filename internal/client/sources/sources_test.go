package sources

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/ddictl/internal/client/config"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestFileSource_IdentityAndChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10)
	p := writeFile(t, "data.bin", data)

	src, err := Open(context.Background(), p, config.S3Config{})
	require.NoError(t, err)
	defer src.Close()

	id, err := src.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data.bin", id.Name)
	assert.Equal(t, int64(100), id.Size)

	want, _, err := cryptox.Fingerprint(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, id.Fingerprint)

	chunk, err := src.ReadChunk(context.Background(), 30, 40)
	require.NoError(t, err)
	assert.Equal(t, data[30:70], chunk)

	tail, err := src.ReadChunk(context.Background(), 90, 40)
	require.NoError(t, err)
	assert.Equal(t, data[90:], tail)

	past, err := src.ReadChunk(context.Background(), 100, 10)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestFileSource_FileScheme(t *testing.T) {
	p := writeFile(t, "x.txt", []byte("x"))
	src, err := Open(context.Background(), "file://"+p, config.S3Config{})
	require.NoError(t, err)
	require.NoError(t, src.Close())
}

func TestFileSource_Errors(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing"), config.S3Config{})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Open(context.Background(), t.TempDir(), config.S3Config{})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = Open(context.Background(), "", config.S3Config{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestFileSource_ReadChunkCancelled(t *testing.T) {
	src, err := OpenFile(writeFile(t, "a", []byte("abc")))
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.ReadChunk(ctx, 0, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSource_Verify(t *testing.T) {
	data := bytes.Repeat([]byte("ab"), 50)
	p := writeFile(t, "v.bin", data)
	src, err := OpenFile(p)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	require.NoError(t, src.Verify(ctx))

	// Touched but identical content still verifies.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))
	require.NoError(t, src.Verify(ctx))

	// Same size, different bytes.
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte("ba"), 50), 0o600))
	later = later.Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))
	assert.ErrorIs(t, src.Verify(ctx), common.ErrValidation)

	require.NoError(t, os.WriteFile(p, data[:10], 0o600))
	assert.ErrorIs(t, src.Verify(ctx), common.ErrValidation)
}

type fakeObjects struct {
	data    []byte
	etag    string
	headErr error
	ranges  []string
	ifMatch []string
}

func (f *fakeObjects) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(f.data))), ETag: aws.String(`"` + f.etag + `"`)}, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	r := aws.ToString(in.Range)
	f.ranges = append(f.ranges, r)
	f.ifMatch = append(f.ifMatch, aws.ToString(in.IfMatch))

	spec := strings.TrimPrefix(r, "bytes=")
	from, to, _ := strings.Cut(spec, "-")
	a, _ := strconv.Atoi(from)
	b, _ := strconv.Atoi(to)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.data[a : b+1]))}, nil
}

func stubS3(t *testing.T, fake *fakeObjects) *s3.Options {
	t.Helper()
	origLoad, origNew := loadDefaultAWSConfig, newObjectAPI
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newObjectAPI = origNew
	})

	var applied s3.Options
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-west-1", lo.Region)
		assert.NotNil(t, lo.Credentials)
		return aws.Config{Region: lo.Region}, nil
	}
	newObjectAPI = func(cfg aws.Config, optFns ...func(*s3.Options)) objectAPI {
		for _, fn := range optFns {
			fn(&applied)
		}
		return fake
	}
	return &applied
}

var testS3 = config.S3Config{Endpoint: "http://127.0.0.1:9000", Region: "eu-west-1", AccessKey: "ak", SecretKey: "sk"}

func TestS3Source_IdentityAndRangedReads(t *testing.T) {
	fake := &fakeObjects{data: []byte("abcdefghij"), etag: "e1"}
	opts := stubS3(t, fake)

	src, err := Open(context.Background(), "s3://bucket/dir/obj.tar.gz", testS3)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)

	id, err := src.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "obj.tar.gz", id.Name)
	assert.Equal(t, int64(10), id.Size)
	assert.Equal(t, "etag:e1", id.Fingerprint)

	chunk, err := src.ReadChunk(context.Background(), 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("efgh"), chunk)

	tail, err := src.ReadChunk(context.Background(), 8, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("ij"), tail)

	none, err := src.ReadChunk(context.Background(), 10, 4)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Equal(t, []string{"bytes=4-7", "bytes=8-9"}, fake.ranges)
	assert.Equal(t, []string{`"e1"`, `"e1"`}, fake.ifMatch)
}

func TestS3Source_MissingObject(t *testing.T) {
	stubS3(t, &fakeObjects{headErr: &types.NotFound{}})

	_, err := Open(context.Background(), "s3://bucket/key", testS3)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestS3Source_BadURI(t *testing.T) {
	_, err := Open(context.Background(), "s3://bucket", testS3)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = Open(context.Background(), "s3:///key", testS3)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestS3Source_Verify(t *testing.T) {
	fake := &fakeObjects{data: []byte("abcdefghij"), etag: "e1"}
	stubS3(t, fake)

	src, err := Open(context.Background(), "s3://bucket/obj", testS3)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, src.Verify(ctx))

	fake.etag = "e2"
	assert.ErrorIs(t, src.Verify(ctx), common.ErrValidation)

	fake.etag = "e1"
	fake.headErr = &types.NotFound{}
	assert.ErrorIs(t, src.Verify(ctx), common.ErrValidation)
}
