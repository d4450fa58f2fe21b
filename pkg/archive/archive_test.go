package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePutter struct {
	puts map[string][]byte
	fail map[string]error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := *in.Key
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestParseDestination(t *testing.T) {
	cfg, err := ParseDestination("s3://screens/2026/p450")
	require.NoError(t, err)
	assert.Equal(t, "screens", cfg.Bucket)
	assert.Equal(t, "2026/p450", cfg.Prefix)

	_, err = ParseDestination("screens/p450")
	assert.Error(t, err)

	_, err = ParseDestination("s3:///no-bucket")
	assert.Error(t, err)
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "screen_summary.csv")
	require.NoError(t, os.WriteFile(local, []byte("Rank,Molecule\n"), 0644))

	fake := &fakePutter{}
	u := &Uploader{client: fake, bucket: "screens", prefix: "runs/r1", log: zap.NewNop()}

	require.NoError(t, u.UploadFile(context.Background(), local, "screen_summary.csv"))
	assert.Equal(t, []byte("Rank,Molecule\n"), fake.puts["runs/r1/screen_summary.csv"])
}

func TestUploadRunSkipsMissingAndKeepsGoing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))

	fake := &fakePutter{fail: map[string]error{"a.csv": errors.New("boom")}}
	u := &Uploader{client: fake, bucket: "screens", log: zap.NewNop()}

	uploaded, err := u.UploadRun(context.Background(), dir, []string{"a.csv", "missing.db", "b.txt"})
	assert.Error(t, err)
	assert.Equal(t, 1, uploaded)
	assert.Contains(t, fake.puts, "b.txt")
}

type fakeAPIError struct{ code, msg string }

func (e *fakeAPIError) Error() string                 { return e.code + ": " + e.msg }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.msg }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestClassifySurfacesAPIErrorCode(t *testing.T) {
	err := classify(&fakeAPIError{code: "AccessDenied", msg: "no"})
	assert.Contains(t, err.Error(), "AccessDenied")

	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, classify(plain))
}
