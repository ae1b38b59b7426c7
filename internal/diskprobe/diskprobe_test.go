package diskprobe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProber struct {
	free uint64
	err  error
}

func (f fakeProber) FreeBytes(path string) (uint64, error) { return f.free, f.err }

func TestHasRoomUnknownSizeAlwaysPasses(t *testing.T) {
	ok, err := HasRoom(fakeProber{free: 0}, "/tmp", 0, 100)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestHasRoomWithEnoughSpace(t *testing.T) {
	ok, err := HasRoom(fakeProber{free: 1000}, "/tmp", 500, 100)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestHasRoomInsufficientSpace(t *testing.T) {
	ok, err := HasRoom(fakeProber{free: 500}, "/tmp", 500, 100)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestHasRoomExactlyAtMargin(t *testing.T) {
	ok, err := HasRoom(fakeProber{free: 600}, "/tmp", 500, 100)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestHasRoomProbeError(t *testing.T) {
	probeErr := errors.New("disk unreadable")
	ok, err := HasRoom(fakeProber{err: probeErr}, "/tmp", 500, 100)
	assert.ErrorIs(t, err, probeErr)
	assert.False(t, ok)
}
