package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pushroute/internal/adapter/input"
	"github.com/jmylchreest/pushroute/internal/fcm"
	"github.com/jmylchreest/pushroute/internal/model"
)

var sendOpts struct {
	token        string
	title        string
	body         string
	url          string
	data         map[string]string
	file         string
	dryRun       bool
	validateOnly bool
	project      string
	credentials  string
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a test push through Firebase Cloud Messaging",
	Long: `Send a push message to a registration token through Firebase Cloud
Messaging, using the project and service account from the [firebase] config
section.

The message is built from flags, or from a payload file with --file (flags
then override its fields).

Examples:
  # Notification with a click target
  pushroute send --token "$TOKEN" --title Promo --body "50% off" --url /offers

  # Data-only message
  pushroute send --token "$TOKEN" --data title=Promo --data url=/offers

  # Print the FCM message without sending it
  pushroute send --token "$TOKEN" --title Hi --dry-run`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendOpts.token, "token", "",
		"FCM registration token of the target")
	sendCmd.Flags().StringVar(&sendOpts.title, "title", "",
		"Notification title")
	sendCmd.Flags().StringVar(&sendOpts.body, "body", "",
		"Notification body")
	sendCmd.Flags().StringVar(&sendOpts.url, "url", "",
		"Click target, stored as data.url")
	sendCmd.Flags().StringToStringVar(&sendOpts.data, "data", nil,
		"Data entries as key=value (repeatable)")
	sendCmd.Flags().StringVar(&sendOpts.file, "file", "",
		"Read the payload from a file (- for stdin)")
	sendCmd.Flags().BoolVar(&sendOpts.dryRun, "dry-run", false,
		"Print the message as JSON instead of sending it")
	sendCmd.Flags().BoolVar(&sendOpts.validateOnly, "validate-only", false,
		"Ask FCM to validate the message without delivering it")
	sendCmd.Flags().StringVar(&sendOpts.project, "project", "",
		"Firebase project ID (overrides [firebase] project_id)")
	sendCmd.Flags().StringVar(&sendOpts.credentials, "credentials", "",
		"Service account JSON (overrides [firebase] credentials_file)")

	_ = sendCmd.MarkFlagRequired("token")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var base *model.Payload
	if sendOpts.file != "" {
		adapter, err := input.NewAdapter(sendOpts.file)
		if err != nil {
			return fmt.Errorf("failed to create adapter: %w", err)
		}
		payloads, err := adapter.Import(ctx)
		if err != nil {
			return err
		}
		if len(payloads) != 1 {
			return fmt.Errorf("expected one payload in %s, found %d", adapter.Name(), len(payloads))
		}
		base = &payloads[0]
	}

	payload := buildSendPayload(base, sendOpts.title, sendOpts.body, sendOpts.url, sendOpts.data)
	if payload.IsEmpty() {
		return fmt.Errorf("nothing to send: set --title, --body, --url, --data or --file")
	}

	msg, err := fcm.BuildMessage(payload, sendOpts.token, cfg.App.Origin)
	if err != nil {
		return err
	}

	if sendOpts.dryRun {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(msg)
	}

	fcmCfg := fcm.Config{
		ProjectID:       cfg.Firebase.ProjectID,
		CredentialsFile: cfg.CredentialsFile(),
	}
	if sendOpts.project != "" {
		fcmCfg.ProjectID = sendOpts.project
	}
	if sendOpts.credentials != "" {
		fcmCfg.CredentialsFile = sendOpts.credentials
	}

	name, err := fcm.NewSender(fcmCfg, logger).Send(ctx, msg, sendOpts.validateOnly)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), name)
	return nil
}

// buildSendPayload overlays the flag values on base, which may be nil.
func buildSendPayload(base *model.Payload, title, body, target string, data map[string]string) *model.Payload {
	p := &model.Payload{}
	if base != nil {
		if len(base.Data) > 0 {
			p.Data = base.Data.Clone()
		}
		if base.Notification != nil {
			n := *base.Notification
			p.Notification = &n
		}
	}

	if title != "" || body != "" {
		if p.Notification == nil {
			p.Notification = &model.PayloadNotification{}
		}
		if title != "" {
			p.Notification.Title = title
		}
		if body != "" {
			p.Notification.Body = body
		}
	}

	if len(data) > 0 || target != "" {
		if p.Data == nil {
			p.Data = make(model.Data, len(data)+1)
		}
		for k, v := range data {
			p.Data[k] = v
		}
		if target != "" {
			p.Data[model.DataKeyURL] = target
		}
	}
	return p
}
