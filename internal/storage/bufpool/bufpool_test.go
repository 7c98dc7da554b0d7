package bufpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linka-cloud/audittrail/internal/storage/bufpool"
)

func TestGetReturnsZeroLengthSlice(t *testing.T) {
	t.Parallel()

	b := bufpool.Get()
	assert.Len(t, b, 0)
	assert.GreaterOrEqual(t, cap(b), 0)
}

func TestGetAfterPutReturnsZeroLengthSlice(t *testing.T) {
	t.Parallel()

	b := bufpool.Get()
	b = append(b, make([]byte, 1024)...)
	bufpool.Put(b)

	got := bufpool.Get()
	assert.Len(t, got, 0)
}
