package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerCapturesStdout(t *testing.T) {
	r := New(5*time.Second, 1024)

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "printf hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Stdout))
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	r := New(5*time.Second, 1024)

	_, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo nope >&2; exit 3"}})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Contains(t, exitErr.Error(), "nope")
}

func TestExecRunnerTimeout(t *testing.T) {
	r := New(100*time.Millisecond, 1024)

	_, err := r.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestExecRunnerOutputCap(t *testing.T) {
	r := New(5*time.Second, 16)

	_, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "yes | head -c 4096"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutputTooLarge))
}

func TestExecRunnerOutputCapLargeStream(t *testing.T) {
	r := New(5*time.Second, 16)

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "head -c 1048576 /dev/zero"}})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrOutputTooLarge)
}

func TestLimitedBufferCapsCopy(t *testing.T) {
	cancelled := false
	b := &limitedBuffer{max: 8, cancel: func() { cancelled = true }}

	n, err := io.Copy(b, strings.NewReader("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)
	assert.True(t, b.exceeded)
	assert.True(t, cancelled)
	assert.Empty(t, b.Bytes())

	small := &limitedBuffer{max: 8}
	_, err = io.Copy(small, bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	assert.False(t, small.exceeded)
	assert.Equal(t, "abc", small.String())
}

func TestExecRunnerRequiresName(t *testing.T) {
	_, err := New(0, 0).Run(context.Background(), Command{})
	assert.Error(t, err)
}

func TestFakeRunner(t *testing.T) {
	f := NewFakeRunner().
		On("kubectl get nodes", []byte(`{}`), nil).
		On("kubectl get pods", nil, errors.New("refused"))

	res, err := f.Run(context.Background(), Command{Name: "kubectl", Args: []string{"get", "nodes"}})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(res.Stdout))

	_, err = f.Run(context.Background(), Command{Name: "kubectl", Args: []string{"get", "pods"}})
	assert.EqualError(t, err, "refused")

	_, err = f.Run(context.Background(), Command{Name: "kubectl", Args: []string{"version"}})
	assert.Error(t, err)
	assert.Len(t, f.Calls, 3)
}
