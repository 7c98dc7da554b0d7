package enginetest_test

import (
	"bytes"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linka-cloud/audittrail/internal/engine/enginetest"
	"github.com/linka-cloud/audittrail/internal/entry"
)

func TestMockStateMachineRecordsApply(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sm := enginetest.NewMockStateMachine(ctrl)

	e := entry.NewCached(entry.Header{Term: 1}, 1, []byte("x"))
	sm.EXPECT().Apply(e).Return(nil)

	require.NoError(t, sm.Apply(e))
}

func TestMockSnapshotBuilderWriteTo(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	builder := enginetest.NewMockSnapshotBuilder(ctrl)

	builder.EXPECT().WriteTo(gomock.Any()).DoAndReturn(func(w interface{}) (int64, error) {
		buf := w.(*bytes.Buffer)
		n, err := buf.Write([]byte("snapshot"))
		return int64(n), err
	})
	builder.EXPECT().Dispose()

	var buf bytes.Buffer
	n, err := builder.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, "snapshot", buf.String())

	builder.Dispose()
}

func TestMockStateMachineSnapshot(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sm := enginetest.NewMockStateMachine(ctrl)
	builder := enginetest.NewMockSnapshotBuilder(ctrl)

	sm.EXPECT().Snapshot().Return(builder, nil)

	got, err := sm.Snapshot()
	require.NoError(t, err)
	assert.Same(t, builder, got)
}
