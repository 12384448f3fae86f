package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/archivemaps/georef-pipeline/internal/config"
	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/keys"
	"github.com/archivemaps/georef-pipeline/internal/storage"
)

func newKeyFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "key",
		Usage:    "Object store key, e.g. raw/denver_1905.tif",
		Required: true,
	}
}

func openStore() (storage.ObjectStore, error) {
	return storage.NewMinioStore(config.Load().Store)
}

func openQueue() (*events.RedisQueue, error) {
	hostname, _ := os.Hostname()
	return events.NewRedisQueue(config.Load().Queue, hostname+"-ctl")
}

func uploadAction(c *cli.Context) error {
	path := c.String("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	key := keys.RawPrefix + filepath.Base(path)
	if !keys.IsRaw(key) {
		return fmt.Errorf("%s is not a supported raster format", path)
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to connect to object store: %w", err)
	}
	if err := store.Put(c.Context, key, data, "application/octet-stream"); err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}

	queue, err := openQueue()
	if err != nil {
		return fmt.Errorf("failed to connect to event queue: %w", err)
	}
	defer queue.Close()

	n := events.Notification{Key: key, Timestamp: time.Now().UTC()}
	if err := queue.Publish(c.Context, n); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	fmt.Printf("uploaded %s and queued for processing\n", key)
	return nil
}

func reprocessAction(c *cli.Context) error {
	key := c.String("key")

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to connect to object store: %w", err)
	}
	if _, err := store.Stat(c.Context, key); err != nil {
		return fmt.Errorf("cannot reprocess %s: %w", key, err)
	}

	queue, err := openQueue()
	if err != nil {
		return fmt.Errorf("failed to connect to event queue: %w", err)
	}
	defer queue.Close()

	n := events.Notification{Key: key, Timestamp: time.Now().UTC()}
	if err := queue.Publish(c.Context, n); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	fmt.Printf("queued %s for reprocessing\n", key)
	return nil
}

func backfillAction(c *cli.Context) error {
	prefix := c.String("prefix")

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to connect to object store: %w", err)
	}
	infos, err := store.List(c.Context, prefix)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	queue, err := openQueue()
	if err != nil {
		return fmt.Errorf("failed to connect to event queue: %w", err)
	}
	defer queue.Close()

	queued := 0
	for _, info := range infos {
		n := events.Notification{Key: info.Key, Timestamp: time.Now().UTC()}
		if err := queue.Publish(c.Context, n); err != nil {
			return fmt.Errorf("failed to publish event for %s: %w", info.Key, err)
		}
		queued++
	}

	fmt.Printf("queued %d objects under %s\n", queued, prefix)
	return nil
}

func errorsAction(c *cli.Context) error {
	key := c.String("key")

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to connect to object store: %w", err)
	}

	records, err := errsink.NewSink(store).History(c.Context, key)
	if err != nil {
		return fmt.Errorf("failed to read error history: %w", err)
	}
	if len(records) == 0 {
		fmt.Printf("no error records for %s\n", key)
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  %-10s %-25s %s\n",
			rec.Timestamp.Format(time.RFC3339), rec.Stage, rec.Kind, rec.Detail)
	}
	return nil
}

func failedAction(c *cli.Context) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to connect to object store: %w", err)
	}

	infos, err := store.List(c.Context, keys.ErrorPrefix)
	if err != nil {
		return fmt.Errorf("failed to list error records: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("no failed images")
		return nil
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, keys.Name(info.Key))
	}
	fmt.Println(strings.Join(names, "\n"))
	return nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("warning: could not load .env file: %v", err)
	}

	app := &cli.App{
		Name:  "georefctl",
		Usage: "Operate the map georeferencing pipeline",
		Commands: []*cli.Command{
			{
				Name:  "upload",
				Usage: "Upload a raster map and queue it for processing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Path to the raster image",
						Required: true,
					},
				},
				Action: uploadAction,
			},
			{
				Name:   "reprocess",
				Usage:  "Re-emit the event for a stored object",
				Flags:  []cli.Flag{newKeyFlag()},
				Action: reprocessAction,
			},
			{
				Name:  "backfill",
				Usage: "Re-emit events for every object under a prefix",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "Key prefix to backfill",
						Value: keys.RawPrefix,
					},
				},
				Action: backfillAction,
			},
			{
				Name:   "errors",
				Usage:  "Show the failure history for one source image",
				Flags:  []cli.Flag{newKeyFlag()},
				Action: errorsAction,
			},
			{
				Name:   "failed",
				Usage:  "List every image with at least one error record",
				Action: failedAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
