package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// ErrNoProject is returned when neither a project ID nor a credentials file is configured.
var ErrNoProject = errors.New("firebase project_id or credentials_file must be configured")

// Config identifies the Firebase project messages are sent through.
type Config struct {
	ProjectID       string
	CredentialsFile string // Service account JSON; empty = application default credentials
}

// Messenger is the subset of *messaging.Client the sender uses.
type Messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, message *messaging.Message) (string, error)
}

// Sender sends messages through FCM. The Firebase app is created on first
// use and at most once; an initialization failure is returned by every
// later call instead of being retried.
type Sender struct {
	cfg    Config
	logger *slog.Logger

	once      sync.Once
	client    Messenger
	initErr   error
	newClient func(ctx context.Context, cfg Config) (Messenger, error)
}

// NewSender creates a Sender.
func NewSender(cfg Config, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		cfg:       cfg,
		logger:    logger.With("component", "fcm"),
		newClient: newMessagingClient,
	}
}

func newMessagingClient(ctx context.Context, cfg Config) (Messenger, error) {
	if cfg.ProjectID == "" && cfg.CredentialsFile == "" {
		return nil, ErrNoProject
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	return client, nil
}

func (s *Sender) init(ctx context.Context) (Messenger, error) {
	s.once.Do(func() {
		s.client, s.initErr = s.newClient(ctx, s.cfg)
		if s.initErr != nil {
			s.logger.Error("failed to initialize firebase", "project", s.cfg.ProjectID, "error", s.initErr)
			return
		}
		s.logger.Debug("firebase initialized", "project", s.cfg.ProjectID)
	})
	return s.client, s.initErr
}

// Send delivers msg and returns the FCM message name. With validateOnly the
// message is checked by FCM but not delivered.
func (s *Sender) Send(ctx context.Context, msg *messaging.Message, validateOnly bool) (string, error) {
	if msg == nil || msg.Token == "" {
		return "", ErrNoToken
	}

	client, err := s.init(ctx)
	if err != nil {
		return "", err
	}

	var name string
	if validateOnly {
		name, err = client.SendDryRun(ctx, msg)
	} else {
		name, err = client.Send(ctx, msg)
	}
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	s.logger.Debug("message sent", "name", name, "validate_only", validateOnly)
	return name, nil
}
