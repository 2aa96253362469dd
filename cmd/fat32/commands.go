package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dargueta/fatfs/file_systems/common"
	"github.com/dargueta/fatfs/file_systems/common/basicstream"
	"github.com/dargueta/fatfs/file_systems/common/blockdevice"
	"github.com/dargueta/fatfs/file_systems/fat32"
	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

type chainRow struct {
	Index   int    `csv:"index"`
	Cluster uint32 `csv:"cluster"`
	Offset  int64  `csv:"offset"`
}

// openVolume mounts the image named by the first argument. The caller must
// close the returned device.
func openVolume(context *cli.Context, argCount int) (*fat32.Volume, *blockdevice.Stream, error) {
	if context.NArg() != argCount {
		return nil, nil, cli.Exit(
			fmt.Sprintf("expected %d arguments, got %d", argCount, context.NArg()), 2)
	}

	device, err := blockdevice.OpenImage(
		afero.NewOsFs(),
		context.Args().First(),
		context.Uint("sector-size"),
		context.Int64("offset"))
	if err != nil {
		return nil, nil, err
	}

	cfg := fat32.DefaultConfig()
	cfg.Logger = log.WithField("image", context.Args().First())
	volume, err := fat32.Mount(device, cfg)
	if err != nil {
		device.Close()
		return nil, nil, err
	}
	return volume, device, nil
}

func parseClusterArg(context *cli.Context, index int) (common.ClusterID, error) {
	value, err := strconv.ParseUint(context.Args().Get(index), 0, 32)
	if err != nil {
		return 0, cli.Exit(fmt.Sprintf("invalid cluster: %s", err), 2)
	}
	return common.ClusterID(value), nil
}

func parseSizeArg(context *cli.Context, index int) (int64, error) {
	value, err := strconv.ParseInt(context.Args().Get(index), 0, 64)
	if err != nil {
		return 0, cli.Exit(fmt.Sprintf("invalid size: %s", err), 2)
	}
	return value, nil
}

func showInfo(context *cli.Context) error {
	volume, device, err := openVolume(context, 1)
	if err != nil {
		return err
	}
	defer device.Close()

	bs := volume.BootSector()
	freeClusters, err := volume.FAT().FreeClusterCount()
	if err != nil {
		return err
	}

	out := context.App.Writer
	fmt.Fprintf(out, "Label:               %q\n", bs.VolumeLabel())
	fmt.Fprintf(out, "Bytes per sector:    %d\n", bs.BytesPerSector())
	fmt.Fprintf(out, "Sectors per cluster: %d\n", bs.SectorsPerCluster())
	fmt.Fprintf(out, "Reserved sectors:    %d\n", bs.ReservedSectors())
	fmt.Fprintf(out, "FATs:                %d (mirrored: %t, active: %d)\n",
		bs.FATCount(), bs.IsFATMirrored(), bs.ValidFATIndex())
	fmt.Fprintf(out, "Sectors per FAT:     %d\n", bs.SectorsPerFAT())
	fmt.Fprintf(out, "Total sectors:       %d\n", bs.TotalSectors())
	fmt.Fprintf(out, "Data area offset:    %d\n", bs.DataAreaOffset())
	fmt.Fprintf(out, "Root cluster:        %d\n", bs.RootDirStartCluster())
	fmt.Fprintf(out, "Clusters:            %d (%d free)\n", bs.TotalClusters(), freeClusters)
	return nil
}

func showChain(context *cli.Context) error {
	volume, device, err := openVolume(context, 2)
	if err != nil {
		return err
	}
	defer device.Close()

	start, err := parseClusterArg(context, 1)
	if err != nil {
		return err
	}

	clusters, err := volume.FAT().Chain(start)
	if err != nil {
		return err
	}

	rows := make([]chainRow, len(clusters))
	for i, cluster := range clusters {
		rows[i] = chainRow{
			Index:   i,
			Cluster: uint32(cluster),
			Offset:  volume.BootSector().ClusterOffset(cluster),
		}
	}

	if context.Bool("csv") {
		return gocsv.Marshal(rows, context.App.Writer)
	}
	for _, row := range rows {
		fmt.Fprintf(context.App.Writer, "%d\t%d\t0x%x\n", row.Index, row.Cluster, row.Offset)
	}
	return nil
}

func catFile(context *cli.Context) error {
	volume, device, err := openVolume(context, 3)
	if err != nil {
		return err
	}
	defer device.Close()

	start, err := parseClusterArg(context, 1)
	if err != nil {
		return err
	}
	size, err := parseSizeArg(context, 2)
	if err != nil {
		return err
	}

	file := volume.OpenFile(fat32.NewMemoryEntry("", start, size))
	stream, err := basicstream.New(file, os.O_RDONLY)
	if err != nil {
		return err
	}

	_, err = stream.WriteTo(context.App.Writer)
	return err
}

func putFile(context *cli.Context) error {
	volume, device, err := openVolume(context, 1)
	if err != nil {
		return err
	}
	defer device.Close()

	entry := fat32.NewMemoryEntry("", 0, 0)
	stream, err := basicstream.New(volume.OpenFile(entry), os.O_WRONLY)
	if err != nil {
		return err
	}

	_, err = stream.ReadFrom(context.App.Reader)
	if err != nil {
		return err
	}
	fmt.Fprintf(context.App.Writer, "%d %d\n", entry.StartCluster(), entry.FileSize())
	return nil
}

func truncateFile(context *cli.Context) error {
	volume, device, err := openVolume(context, 4)
	if err != nil {
		return err
	}
	defer device.Close()

	start, err := parseClusterArg(context, 1)
	if err != nil {
		return err
	}
	size, err := parseSizeArg(context, 2)
	if err != nil {
		return err
	}
	newSize, err := parseSizeArg(context, 3)
	if err != nil {
		return err
	}

	entry := fat32.NewMemoryEntry("", start, size)
	err = volume.OpenFile(entry).SetLength(newSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(context.App.Writer, "%d\n", entry.StartCluster())
	return nil
}
