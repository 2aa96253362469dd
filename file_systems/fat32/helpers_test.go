package fat32_test

import (
	"encoding/binary"
	"testing"

	"github.com/dargueta/fatfs/file_systems/common"
	"github.com/dargueta/fatfs/file_systems/fat32"
	fatfstest "github.com/dargueta/fatfs/testing"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

// readRawEntry reads a FAT entry directly from the device, reserved bits and
// all, bypassing the active-FAT logic.
func readRawEntry(
	t *testing.T,
	device common.BlockDevice,
	bs *fat32.BootSector,
	fatIndex uint,
	cluster common.ClusterID,
) uint32 {
	var buffer [4]byte
	_, err := device.ReadAt(buffer[:], bs.FATOffset(fatIndex)+int64(cluster)*4)
	require.NoError(t, err)
	return binary.LittleEndian.Uint32(buffer[:])
}

func writeRawEntry(
	t *testing.T,
	device common.BlockDevice,
	bs *fat32.BootSector,
	fatIndex uint,
	cluster common.ClusterID,
	value uint32,
) {
	var buffer [4]byte
	binary.LittleEndian.PutUint32(buffer[:], value)
	_, err := device.WriteAt(buffer[:], bs.FATOffset(fatIndex)+int64(cluster)*4)
	require.NoError(t, err)
}

// newPassThroughDevice returns a mock device that forwards every call it has no
// other expectation for to `image`. Expectations for injecting failures must
// be registered on the returned mock before the first call is made, and take
// precedence because they're matched in the order they're added.
func newPassThroughDevice(
	t *testing.T, image common.BlockDevice,
) (*fatfstest.MockBlockDevice, func()) {
	ctrl := gomock.NewController(t)
	device := fatfstest.NewMockBlockDevice(ctrl)

	enablePassThrough := func() {
		device.EXPECT().
			ReadAt(gomock.Any(), gomock.Any()).
			DoAndReturn(image.ReadAt).
			AnyTimes()
		device.EXPECT().
			WriteAt(gomock.Any(), gomock.Any()).
			DoAndReturn(image.WriteAt).
			AnyTimes()
	}
	return device, enablePassThrough
}

func mountDevice(t *testing.T, device common.BlockDevice) *fat32.Volume {
	volume, err := fat32.Mount(device, fatfstest.NewTestConfig(t))
	require.NoError(t, err)
	return volume
}

func freeClusterCount(t *testing.T, fat *fat32.FAT) uint32 {
	count, err := fat.FreeClusterCount()
	require.NoError(t, err)
	return count
}

func makePattern(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i*7)
	}
	return data
}
