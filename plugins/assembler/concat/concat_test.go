package concat

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"llmdoc/pkg/contract"
)

func read(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestAssembleOrdersAndSkipsFailures(t *testing.T) {
	a, err := New(nil)
	require.NoError(t, err)
	// 完成顺序乱序，输出按块序
	res := []contract.DispatchResult{
		{ChunkIndex: 2, Output: "C"},
		{ChunkIndex: 0, Output: "A"},
		{ChunkIndex: 1, Failed: true, Err: contract.ErrRemoteCall},
	}
	r, err := a.Assemble(context.Background(), res)
	require.NoError(t, err)
	require.Equal(t, "A\nC", read(t, r))
}

func TestAssembleSeparator(t *testing.T) {
	a, err := New([]byte(`{"separator":""}`))
	require.NoError(t, err)
	r, err := a.Assemble(context.Background(), []contract.DispatchResult{{ChunkIndex: 1, Output: "b"}, {ChunkIndex: 0, Output: "a"}})
	require.NoError(t, err)
	require.Equal(t, "ab", read(t, r))
}

func TestAssembleNoOutput(t *testing.T) {
	a, _ := New(nil)
	_, err := a.Assemble(context.Background(), nil)
	require.True(t, errors.Is(err, contract.ErrNoOutput))
	_, err = a.Assemble(context.Background(), []contract.DispatchResult{{ChunkIndex: 0, Failed: true}})
	require.True(t, errors.Is(err, contract.ErrNoOutput))
}

func TestAssembleDuplicateIndex(t *testing.T) {
	a, _ := New(nil)
	_, err := a.Assemble(context.Background(), []contract.DispatchResult{{ChunkIndex: 0, Output: "a"}, {ChunkIndex: 0, Output: "b"}})
	require.ErrorIs(t, err, contract.ErrInvariantViolation)
}
