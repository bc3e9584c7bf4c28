package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openpacer/openpacer/pkg/telemetry"
)

// Options configures an Intake.
type Options struct {
	// Dir is the spool directory to watch. Required.
	Dir string

	// Submit receives the contents of each spooled graph document. Required.
	// A submit error is logged; the file is consumed either way.
	Submit func(doc []byte) error

	// Logger is the intake's structured logger.
	Logger *telemetry.Logger
}

// Intake watches a spool directory for planned transition graphs. Each *.json
// file dropped into the directory is read, unlinked and handed to the submit
// callback. Spool files are transient hand-off artifacts: they are removed as
// soon as they are picked up, whether or not the engine accepts the graph.
type Intake struct {
	opts    Options
	log     zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewIntake creates a spool intake for the given directory.
func NewIntake(opts Options) (*Intake, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("spool directory is required")
	}
	if opts.Submit == nil {
		return nil, fmt.Errorf("submit callback is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.Nop()
	}
	return &Intake{
		opts: opts,
		log:  opts.Logger.NewComponentLogger("spool").Zerolog(),
	}, nil
}

// Start drains documents already present in the spool directory, then watches
// for new ones until the context is cancelled.
func (i *Intake) Start(ctx context.Context) error {
	info, err := os.Stat(i.opts.Dir)
	if err != nil {
		return fmt.Errorf("failed to stat spool directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("spool path is not a directory: %s", i.opts.Dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(i.opts.Dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}
	i.watcher = watcher

	if err := i.drainExisting(); err != nil {
		_ = watcher.Close()
		return err
	}

	go i.processEvents(ctx)

	i.log.Info().Str("dir", i.opts.Dir).Msg("spool intake started")
	return nil
}

// Stop closes the watcher. Safe to call more than once.
func (i *Intake) Stop() error {
	if i.watcher != nil {
		return i.watcher.Close()
	}
	return nil
}

// drainExisting consumes spool files left over from before the watch began,
// oldest name first.
func (i *Intake) drainExisting() error {
	entries, err := os.ReadDir(i.opts.Dir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		i.consume(filepath.Join(i.opts.Dir, name))
	}
	return nil
}

func (i *Intake) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = i.watcher.Close()
			return

		case event, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			i.consume(event.Name)

		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			i.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// consume reads and unlinks one spool file, then submits its contents. A
// Create followed by a Write delivers the same path twice; the second read
// finds the file gone and is a no-op.
func (i *Intake) consume(path string) {
	doc, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			i.log.Error().Err(err).Str("path", path).Msg("failed to read spool file")
		}
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		i.log.Warn().Err(err).Str("path", path).Msg("failed to unlink spool file")
	}

	i.log.Debug().Str("path", path).Int("bytes", len(doc)).Msg("spool file consumed")

	if err := i.opts.Submit(doc); err != nil {
		i.log.Warn().Err(err).Str("path", path).Msg("spooled graph rejected")
	}
}
