// Package cli implements folioctl, a terminal front end for the document
// editor.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"folio/api/internal/config"
	"folio/api/internal/document"
	"folio/api/internal/editor"
	"folio/api/internal/logging"
	"folio/api/internal/notify"
	"folio/api/internal/remote"
	"folio/api/internal/sections"
)

// Backend is the remote store plus single-document reads.
type Backend interface {
	remote.Store
	Get(ctx context.Context, kind, id string) (document.Document, error)
}

// App carries what every command needs. Zero fields are filled from flags
// before a command runs. Call Close once the command has finished.
type App struct {
	Out     io.Writer
	Err     io.Writer
	Catalog *sections.Catalog
	Backend Backend
	Logger  *zap.Logger

	apiURL    string
	timeout   time.Duration
	kindsDir  string
	notifyTTL time.Duration
	logLevel  string
	offline   string

	// offlineStore is set when Backend was loaded from the offline file.
	offlineStore *remote.Memory
}

func NewApp(cfg config.Config) *App {
	return &App{
		Out:       os.Stdout,
		Err:       os.Stderr,
		apiURL:    cfg.APIURL,
		timeout:   cfg.APITimeout,
		kindsDir:  cfg.KindsDir,
		notifyTTL: cfg.NotifyTTL,
		logLevel:  cfg.LogLevel,
	}
}

// RootCmd builds the folioctl command tree.
func RootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "folioctl",
		Short:         "Edit folio documents section by section",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", a.apiURL, "folio API base url")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", a.timeout, "per-request timeout")
	root.PersistentFlags().StringVar(&a.kindsDir, "kinds-dir", a.kindsDir, "directory of kind registries overriding the builtin ones")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", a.logLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.offline, "offline", "", "work on a local JSON store file instead of the API")

	root.AddCommand(kindsCmd(a))
	root.AddCommand(listCmd(a))
	root.AddCommand(showCmd(a))
	root.AddCommand(newCmd(a))
	root.AddCommand(editCmd(a))
	root.AddCommand(deleteCmd(a))
	root.AddCommand(toggleCmd(a))
	return root
}

func (a *App) init() error {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.Err == nil {
		a.Err = os.Stderr
	}
	if a.Logger == nil {
		logger, err := logging.New(a.logLevel)
		if err != nil {
			return err
		}
		a.Logger = logger
	}
	if a.Catalog == nil {
		catalog, err := sections.Load(a.kindsDir)
		if err != nil {
			return err
		}
		a.Catalog = catalog
	}
	if a.Backend == nil && a.offline != "" {
		mem, err := readOffline(a.offline)
		if err != nil {
			return err
		}
		a.offlineStore = mem
		a.Backend = mem
	}
	if a.Backend == nil {
		a.Backend = remote.NewHTTPClient(a.apiURL, a.timeout, remote.WithLogger(a.Logger))
	}
	return nil
}

// Close writes the offline store back to its file and flushes the logger.
func (a *App) Close() error {
	var err error
	if a.offlineStore != nil {
		err = writeOffline(a.offline, a.offlineStore)
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}

func readOffline(path string) (*remote.Memory, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return remote.NewMemory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offline store: %w", err)
	}
	mem, err := remote.ReadMemory(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mem, nil
}

func writeOffline(path string, mem *remote.Memory) error {
	var buf bytes.Buffer
	if _, err := mem.WriteTo(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write offline store: %w", err)
	}
	return nil
}

// controller opens an editor session for kind. The caller must Close it.
func (a *App) controller(kind string) (*editor.Controller, error) {
	reg, err := a.Catalog.Lookup(kind)
	if err != nil {
		return nil, err
	}
	notes := notify.New(notify.WithTTL(a.notifyTTL), notify.OnChange(func(n notify.Notification, ok bool) {
		if ok {
			printNotification(a.Err, n)
		}
	}))
	return editor.New(reg, a.Backend, editor.WithLogger(a.Logger), editor.WithNotifications(notes)), nil
}
