package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Usage: "Inspect and modify files on FAT32 disk images",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "offset",
				Usage: "byte offset of the volume inside the image, e.g. a partition's start",
			},
			&cli.UintFlag{
				Name:  "sector-size",
				Usage: "sector size of the image",
				Value: 512,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log driver activity",
			},
		},
		Before: func(context *cli.Context) error {
			if context.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Show the geometry and free space of a volume",
				Action:    showInfo,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "chain",
				Usage:     "List the clusters in a chain",
				Action:    showChain,
				ArgsUsage: "IMAGE START_CLUSTER",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "csv", Usage: "print one CSV row per cluster"},
				},
			},
			{
				Name:      "cat",
				Usage:     "Write the contents of a file to stdout",
				Action:    catFile,
				ArgsUsage: "IMAGE START_CLUSTER SIZE",
			},
			{
				Name:      "put",
				Usage:     "Store stdin in newly allocated clusters and print where it went",
				Action:    putFile,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "truncate",
				Usage:     "Resize a file and print its new start cluster",
				Action:    truncateFile,
				ArgsUsage: "IMAGE START_CLUSTER SIZE NEW_SIZE",
			},
		},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}
