package fat32_test

import (
	"errors"
	"testing"

	"github.com/dargueta/fatfs"
	"github.com/dargueta/fatfs/file_systems/common"
	"github.com/dargueta/fatfs/file_systems/fat32"
	fatfstest "github.com/dargueta/fatfs/testing"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFAT__FreshImage(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()

	next, err := fat.NextCluster(fatfstest.RootDirCluster)
	require.NoError(t, err)
	assert.True(t, fat32.IsEndOfChain(next), "root directory should be one cluster")

	next, err = fat.NextCluster(3)
	require.NoError(t, err)
	assert.True(t, fat32.IsFree(next))

	assert.EqualValues(t, 63, freeClusterCount(t, fat))
}

func TestFAT__ClassifyEntries(t *testing.T) {
	assert.True(t, fat32.IsFree(0))
	assert.False(t, fat32.IsFree(2))
	assert.True(t, fat32.IsBad(0x0FFFFFF7))
	assert.False(t, fat32.IsEndOfChain(0x0FFFFFF7))
	assert.True(t, fat32.IsEndOfChain(0x0FFFFFF8))
	assert.True(t, fat32.IsEndOfChain(0x0FFFFFFF))
	assert.False(t, fat32.IsEndOfChain(0x0FFFFFF6))
}

func TestFAT__ClusterOutOfRange(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()
	maxCluster := volume.BootSector().MaxCluster()
	require.EqualValues(t, 65, maxCluster)

	for _, cluster := range []common.ClusterID{0, 1, maxCluster + 1} {
		_, err := fat.NextCluster(cluster)
		assert.ErrorIs(t, err, fatfs.ErrInvalidArgument, "reading cluster %d", cluster)

		err = fat.SetNextCluster(cluster, fat32.EndOfChain)
		assert.ErrorIs(t, err, fatfs.ErrInvalidArgument, "writing cluster %d", cluster)
	}

	_, err := fat.NextCluster(maxCluster)
	assert.NoError(t, err)
}

func TestFAT__NextClusterMasksReservedBits(t *testing.T) {
	volume, device := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	writeRawEntry(t, device, volume.BootSector(), 0, 10, 0xA000000B)

	next, err := volume.FAT().NextCluster(10)
	require.NoError(t, err)
	assert.EqualValues(t, 11, next)
}

func TestFAT__SetNextClusterMirrored(t *testing.T) {
	opts := fatfstest.DefaultImageOptions()
	opts.FATCount = 3
	volume, device := fatfstest.MountImage(t, opts)
	bs := volume.BootSector()
	require.True(t, bs.IsFATMirrored())

	values := []common.ClusterID{7, fat32.EndOfChain, fat32.BadCluster, fat32.FreeCluster}
	for _, value := range values {
		err := volume.FAT().SetNextCluster(6, value)
		require.NoError(t, err)

		for i := uint(0); i < 3; i++ {
			assert.EqualValues(
				t, value, readRawEntry(t, device, bs, i, 6), "FAT %d differs", i)
		}
	}
}

func TestFAT__SetNextClusterNotMirrored(t *testing.T) {
	opts := fatfstest.DefaultImageOptions()
	opts.NotMirrored = true
	opts.ValidFATIndex = 1
	volume, device := fatfstest.MountImage(t, opts)
	bs := volume.BootSector()
	fat := volume.FAT()
	require.False(t, bs.IsFATMirrored())

	err := fat.SetNextCluster(6, 9)
	require.NoError(t, err)
	assert.EqualValues(t, 0, readRawEntry(t, device, bs, 0, 6), "inactive FAT modified")
	assert.EqualValues(t, 9, readRawEntry(t, device, bs, 1, 6))

	// Reads must come from the active FAT, not the first one.
	writeRawEntry(t, device, bs, 0, 6, 20)
	next, err := fat.NextCluster(6)
	require.NoError(t, err)
	assert.EqualValues(t, 9, next)
}

func TestFAT__SetNextClusterPreservesReservedBits(t *testing.T) {
	volume, device := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	bs := volume.BootSector()
	writeRawEntry(t, device, bs, 0, 5, 0xF0000000)
	writeRawEntry(t, device, bs, 1, 5, 0x30000000)

	err := volume.FAT().SetNextCluster(5, 0x7FFFFFFF)
	require.NoError(t, err)

	assert.EqualValues(t, 0xFFFFFFFF, readRawEntry(t, device, bs, 0, 5))
	assert.EqualValues(t, 0x3FFFFFFF, readRawEntry(t, device, bs, 1, 5))
}

func TestFAT__AllocateLinksChain(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()

	clusters, err := fat.Allocate(4)
	require.NoError(t, err)
	require.Equal(t, []common.ClusterID{3, 4, 5, 6}, clusters)

	for i, cluster := range clusters[:3] {
		next, err := fat.NextCluster(cluster)
		require.NoError(t, err)
		assert.Equal(t, clusters[i+1], next)
	}
	next, err := fat.NextCluster(6)
	require.NoError(t, err)
	assert.Equal(t, fat32.EndOfChain, next)

	chain, err := fat.Chain(3)
	require.NoError(t, err)
	assert.Equal(t, clusters, chain)
	assert.EqualValues(t, 59, freeClusterCount(t, fat))
}

func TestFAT__AllocateZero(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())

	clusters, err := volume.FAT().Allocate(0)
	require.NoError(t, err)
	assert.Empty(t, clusters)

	_, err = volume.FAT().Allocate(-1)
	assert.ErrorIs(t, err, fatfs.ErrInvalidArgument)
}

func TestFAT__AllocateSkipsUsedClusters(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()
	require.NoError(t, fat.SetNextCluster(4, fat32.EndOfChain))
	require.NoError(t, fat.SetNextCluster(6, fat32.BadCluster))

	clusters, err := fat.Allocate(3)
	require.NoError(t, err)
	assert.Equal(t, []common.ClusterID{3, 5, 7}, clusters)
}

func TestFAT__AllocateResumesAndWraps(t *testing.T) {
	opts := fatfstest.DefaultImageOptions()
	opts.DataClusters = 8 // Clusters 2-9, with 2 used by the root directory
	volume, _ := fatfstest.MountImage(t, opts)
	fat := volume.FAT()

	first, err := fat.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, []common.ClusterID{3, 4}, first)

	require.NoError(t, fat.Free(3))

	// The cursor doesn't move backwards when clusters are freed.
	second, err := fat.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, []common.ClusterID{5}, second)

	third, err := fat.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, []common.ClusterID{6, 7, 8, 9}, third)

	// Only the clusters freed earlier are left, and reaching them requires
	// wrapping around.
	fourth, err := fat.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, []common.ClusterID{3, 4}, fourth)
	assert.EqualValues(t, 0, freeClusterCount(t, fat))
}

func TestFAT__AllocationStartConfig(t *testing.T) {
	device := fatfstest.NewImage(t, fatfstest.DefaultImageOptions())
	cfg := fatfstest.NewTestConfig(t)
	cfg.AllocationStart = 40

	volume, err := fat32.Mount(device, cfg)
	require.NoError(t, err)

	clusters, err := volume.FAT().Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, []common.ClusterID{40, 41}, clusters)
}

func TestFAT__AllocateOutOfSpace(t *testing.T) {
	opts := fatfstest.DefaultImageOptions()
	opts.DataClusters = 8
	volume, device := fatfstest.MountImage(t, opts)
	fat := volume.FAT()

	_, err := fat.Allocate(5)
	require.NoError(t, err)
	require.EqualValues(t, 2, freeClusterCount(t, fat))

	fatBefore := make([]byte, opts.BytesPerSector)
	_, err = device.ReadAt(fatBefore, volume.BootSector().FATOffset(0))
	require.NoError(t, err)

	_, err = fat.Allocate(3)
	assert.ErrorIs(t, err, fatfs.ErrOutOfSpace)

	fatAfter := make([]byte, opts.BytesPerSector)
	_, err = device.ReadAt(fatAfter, volume.BootSector().FATOffset(0))
	require.NoError(t, err)
	assert.Equal(t, fatBefore, fatAfter, "failed allocation modified the FAT")

	_, err = fat.Allocate(100)
	assert.ErrorIs(t, err, fatfs.ErrOutOfSpace)

	// The remaining clusters are still usable.
	clusters, err := fat.Allocate(2)
	require.NoError(t, err)
	assert.Len(t, clusters, 2)
}

func TestFAT__AllocateRollsBackOnWriteFailure(t *testing.T) {
	image := fatfstest.NewImage(t, fatfstest.DefaultImageOptions())
	device, enablePassThrough := newPassThroughDevice(t, image)
	deviceErr := errors.New("device unplugged")

	// Mount through the pass-through first so we know where the FAT lives.
	bs := mountDevice(t, image).BootSector()

	// Clusters are linked from the tail, so the head cluster's entry in the
	// second FAT is the last write of a three-cluster allocation.
	device.EXPECT().
		WriteAt(gomock.Any(), bs.FATOffset(1)+3*4).
		Return(0, deviceErr).
		Times(1)
	enablePassThrough()

	volume := mountDevice(t, device)
	fat := volume.FAT()

	_, err := fat.Allocate(3)
	require.ErrorIs(t, err, deviceErr)

	for _, cluster := range []common.ClusterID{3, 4, 5} {
		for fatIndex := uint(0); fatIndex < 2; fatIndex++ {
			assert.EqualValues(
				t,
				0,
				readRawEntry(t, image, bs, fatIndex, cluster),
				"cluster %d not rolled back in FAT %d",
				cluster,
				fatIndex)
		}
	}
	assert.EqualValues(t, 63, freeClusterCount(t, fat))
}

func TestFAT__ReadErrorPropagatesUnchanged(t *testing.T) {
	image := fatfstest.NewImage(t, fatfstest.DefaultImageOptions())
	device, enablePassThrough := newPassThroughDevice(t, image)
	deviceErr := errors.New("checksum mismatch")
	bs := mountDevice(t, image).BootSector()

	device.EXPECT().
		ReadAt(gomock.Any(), bs.FATOffset(0)+7*4).
		Return(0, deviceErr).
		Times(1)
	enablePassThrough()

	volume := mountDevice(t, device)
	_, err := volume.FAT().NextCluster(7)
	assert.Same(t, deviceErr, err)
}

func TestFAT__FreeChain(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()

	clusters, err := fat.Allocate(5)
	require.NoError(t, err)
	require.EqualValues(t, 58, freeClusterCount(t, fat))

	err = fat.Free(clusters[0])
	require.NoError(t, err)
	assert.EqualValues(t, 63, freeClusterCount(t, fat))

	for _, cluster := range clusters {
		next, err := fat.NextCluster(cluster)
		require.NoError(t, err)
		assert.True(t, fat32.IsFree(next), "cluster %d not freed", cluster)
	}
}

func TestFAT__FreeZeroIsNoOp(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())

	assert.NoError(t, volume.FAT().Free(0))
	assert.EqualValues(t, 63, freeClusterCount(t, volume.FAT()))

	chain, err := volume.FAT().Chain(0)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestFAT__FreeDetectsCycle(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()
	require.NoError(t, fat.SetNextCluster(10, 11))
	require.NoError(t, fat.SetNextCluster(11, 12))
	require.NoError(t, fat.SetNextCluster(12, 10))

	_, err := fat.Chain(10)
	assert.ErrorIs(t, err, fatfs.ErrChainInconsistency)

	err = fat.Free(10)
	assert.ErrorIs(t, err, fatfs.ErrChainInconsistency)
}

func TestFAT__FreeDetectsSelfLoop(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()
	require.NoError(t, fat.SetNextCluster(10, 10))

	assert.ErrorIs(t, fat.Free(10), fatfs.ErrChainInconsistency)
}

func TestFAT__ChainIntoFreeCluster(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()
	require.NoError(t, fat.SetNextCluster(10, 11))

	_, err := fat.Chain(10)
	assert.ErrorIs(t, err, fatfs.ErrChainInconsistency)

	// The start of a chain being free is just as broken.
	_, err = fat.Chain(20)
	assert.ErrorIs(t, err, fatfs.ErrChainInconsistency)
}

func TestFAT__ChainIntoBadCluster(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()
	require.NoError(t, fat.SetNextCluster(10, 11))
	require.NoError(t, fat.SetNextCluster(11, fat32.BadCluster))

	_, err := fat.Chain(10)
	assert.ErrorIs(t, err, fatfs.ErrChainInconsistency)
}

func TestFAT__ChainOutOfRange(t *testing.T) {
	volume, _ := fatfstest.MountImage(t, fatfstest.DefaultImageOptions())
	fat := volume.FAT()
	require.NoError(t, fat.SetNextCluster(10, 500))

	_, err := fat.Chain(10)
	assert.ErrorIs(t, err, fatfs.ErrChainInconsistency)
}
