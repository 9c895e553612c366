package shmseg

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFromPathCreatesAndMaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")

	seg, err := FromPath(path, 4096)
	require.NoError(t, err)
	defer seg.Close()

	assert.EqualValues(t, 4096, seg.Size())
	assert.Len(t, seg.Data, 4096)

	copy(seg.Data, []byte("hello"))
	assert.Equal(t, byte('h'), seg.Data[0])
}

func TestFromPathReattachesWithoutResizing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")

	first, err := FromPath(path, 4096)
	require.NoError(t, err)
	copy(first.Data, []byte("marker"))
	require.NoError(t, first.Close())

	second, err := FromPath(path, 4096)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, "marker", string(second.Data[:6]))
}

func TestAnonymousProducesSharableFD(t *testing.T) {
	name := fmt.Sprintf("shmsegtest-%d", rand.Int63())
	seg, err := Anonymous(name, 4096)
	require.NoError(t, err)
	defer seg.Close()

	assert.Greater(t, seg.FD(), 0)
	copy(seg.Data, []byte("anon"))
	assert.Equal(t, "anon", string(seg.Data[:4]))
}

func TestFromFDWrapsReceivedDescriptor(t *testing.T) {
	name := fmt.Sprintf("shmsegtest-%d", rand.Int63())
	fd, err := unix.MemfdCreate(name, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, 4096))

	seg, err := FromFD(fd, 4096)
	require.NoError(t, err)
	defer seg.Close()

	assert.Len(t, seg.Data, 4096)
}
