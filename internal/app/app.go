// Package app is the layer between the CLI and the domain packages. It builds
// every dependency from config, owns their lifecycles, and exposes the
// operations the commands run.
package app

import (
	"errors"
	"fmt"
	"io"

	"ftrack/internal/client"
	"ftrack/internal/config"
	"ftrack/internal/encryption"
	"ftrack/internal/ft"
)

// base holds what every command needs: the validated config, the operation
// and its logger.
type base struct {
	cfg       *config.Config
	op        *Operation
	logger    ft.Logger
	logCloser io.Closer
}

func newBase(cfg *config.Config, operation string, stderr io.Writer) (*base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := NewOperation(operation, ft.RealClock{}.Now())
	logger, closer, err := newLogger(cfg.LogDir, cfg.Logging, op.ID, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return &base{
		cfg:       cfg,
		op:        op,
		logger:    &slogAdapter{l: logger},
		logCloser: closer,
	}, nil
}

// Logger returns the operation's logger.
func (b *base) Logger() ft.Logger { return b.logger }

// Operation returns the running operation.
func (b *base) Operation() *Operation { return b.op }

func (b *base) closeLog() error {
	b.logger.Debug("operation finished", "operation", b.op.Name, "elapsed", b.op.Elapsed(ft.RealClock{}.Now()))
	if b.logCloser == nil {
		return nil
	}
	return b.logCloser.Close()
}

// NewClient returns a catalog client for the server named in cfg.
func NewClient(cfg *config.Config) *client.HTTPClient {
	return client.NewHTTPClient(cfg.Client.ServerURL, cfg.Client.Token, cfg.Client.Timeout.Duration, nil)
}

// InitKeys generates the archive key pair unless one already exists. It
// reports whether new keys were written.
func InitKeys(cfg *config.Config, passphrase string) (bool, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return false, fmt.Errorf("creating encryptor: %w", err)
	}
	if cfg.Encryption.Type == "age" && enc.IsConfigured() {
		return false, nil
	}
	if err := enc.Setup(passphrase); err != nil {
		return false, fmt.Errorf("generating archive keys: %w", err)
	}
	return true, nil
}

// firstErr returns the first non-nil error.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ErrNoVault means the config names no vault for the agent to use.
var ErrNoVault = errors.New("no vaults configured")
