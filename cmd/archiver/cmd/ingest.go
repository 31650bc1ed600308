package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kaimel/archiver/internal/ingest"
	"github.com/kaimel/archiver/internal/store"
)

var (
	ingestConsumerID int64
	ingestNoNotify   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Ingest raw RFC 5322 messages into the archive",
	Long: `Ingest raw messages from .eml files or directories of them.

Each message is parsed once, stored with its normalized attachments, and
scheduled for delivery: a dispatch row per consumer, due immediately, plus
a notification on the consumer's channel so live streams pick the mail up
without polling.

By default every registered consumer gets a dispatch; --consumer restricts
ingestion to one. --no-notify skips the channel signal, useful for
backfills where no stream should wake per message.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestConsumerID, "consumer", 0, "schedule for this consumer only (default: all)")
	ingestCmd.Flags().BoolVar(&ingestNoNotify, "no-notify", false, "skip channel notifications")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	consumerIDs, err := resolveConsumers(cmd, s)
	if err != nil {
		return err
	}
	if len(consumerIDs) == 0 {
		fmt.Println("No consumers registered; mail will be archived without dispatches.")
	}

	files, err := collectMessageFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .eml files found in %s", strings.Join(args, ", "))
	}

	ingestor := ingest.New(s, logger)
	var ingested, skipped atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, path := range files {
		path := path
		g.Go(func() error {
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			_, err = ingestor.Ingest(ctx, raw, consumerIDs, !ingestNoNotify)
			if errors.Is(err, store.ErrDuplicateMail) {
				logger.Warn("skipping already archived mail", "file", path)
				skipped.Add(1)
				return nil
			}
			if err != nil {
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			ingested.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("Ingested %d mails (%d already archived) for %d consumers\n",
		ingested.Load(), skipped.Load(), len(consumerIDs))
	return nil
}

// resolveConsumers returns the dispatch targets: the --consumer flag's id
// when given, every registered consumer otherwise.
func resolveConsumers(cmd *cobra.Command, s *store.Store) ([]int64, error) {
	ctx := cmd.Context()
	if cmd.Flags().Changed("consumer") {
		c, err := s.ConsumerByID(ctx, ingestConsumerID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("no consumer with id %d", ingestConsumerID)
		}
		return []int64{c.ID}, nil
	}

	consumers, err := s.Consumers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(consumers))
	for i, c := range consumers {
		ids[i] = c.ID
	}
	return ids, nil
}

// collectMessageFiles expands the arguments into message files: files are
// taken as given, directories are walked for .eml entries.
func collectMessageFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".eml") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return files, nil
}
