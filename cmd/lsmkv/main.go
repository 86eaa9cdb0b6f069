// Command lsmkv is the CLI entry point for the storage engine: an
// external collaborator that only calls the library API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/urfave/cli/v3"

	"github.com/nyasuto/lsmkv"
)

func main() {
	app := &cli.Command{
		Name:  "lsmkv",
		Usage: "embedded LSM key-value store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "data directory",
				Value:   "./data",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "optional YAML file of config overrides",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log flush/compaction events",
			},
		},
		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			deleteCommand(),
			statsCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// openFromFlags builds a Config from the root command's flags, applying a
// YAML override file on top of DefaultConfig if --config is set, and
// opens the engine.
func openFromFlags(c *cli.Command) (*lsmkv.DB, error) {
	root := c.Root()
	cfg := lsmkv.DefaultConfig(root.String("data-dir"))

	if path := root.String("config"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if root.Bool("verbose") {
		cfg.Verbose = true
		cfg.Observer = func(e lsmkv.Event) {
			log.Printf("event=%s level=%d from=%d to=%d", e.Kind, e.Level, e.FromLevel, e.ToLevel)
		}
	}

	return lsmkv.Open(cfg)
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "write a key/value pair",
		ArgsUsage: "<key> <value>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("put requires exactly 2 arguments: <key> <value>")
			}
			db, err := openFromFlags(c)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Put([]byte(c.Args().Get(0)), []byte(c.Args().Get(1)))
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("get requires exactly 1 argument: <key>")
			}
			db, err := openFromFlags(c)
			if err != nil {
				return err
			}
			defer db.Close()
			v, found, err := db.Get([]byte(c.Args().Get(0)))
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("(not found)")
				return nil
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("delete requires exactly 1 argument: <key>")
			}
			db, err := openFromFlags(c)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Delete([]byte(c.Args().Get(0)))
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print engine counters as JSON",
		Action: func(ctx context.Context, c *cli.Command) error {
			db, err := openFromFlags(c)
			if err != nil {
				return err
			}
			defer db.Close()
			out, err := json.MarshalIndent(db.Stats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
