// Package fcm sends push payloads through Firebase Cloud Messaging, so the
// whole path from sender to notification click can be exercised end to end.
package fcm

import (
	"errors"
	"net/url"

	"firebase.google.com/go/v4/messaging"

	"github.com/jmylchreest/pushroute/internal/model"
)

// ErrNoToken is returned when a message has no registration token.
var ErrNoToken = errors.New("registration token is required")

// BuildMessage maps a payload onto an FCM message for token. The
// notification block and data map carry over unchanged. When origin is
// set and the payload's url resolves to an https URL, it also becomes the
// web push click link.
func BuildMessage(p *model.Payload, token, origin string) (*messaging.Message, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	msg := &messaging.Message{
		Token: token,
		Data:  p.AttachedData(),
	}
	if len(msg.Data) == 0 {
		msg.Data = nil
	}
	if p != nil && p.Notification != nil && (p.Notification.Title != "" || p.Notification.Body != "") {
		msg.Notification = &messaging.Notification{
			Title: p.Notification.Title,
			Body:  p.Notification.Body,
		}
	}

	if link := webpushLink(origin, p.AttachedData()[model.DataKeyURL]); link != "" {
		msg.Webpush = &messaging.WebpushConfig{
			FCMOptions: &messaging.WebpushFCMOptions{Link: link},
		}
	}
	return msg, nil
}

// webpushLink resolves target against origin. FCM only accepts https links.
func webpushLink(origin, target string) string {
	if target == "" {
		return ""
	}
	ref, err := url.Parse(target)
	if err != nil {
		return ""
	}
	if !ref.IsAbs() {
		if origin == "" {
			return ""
		}
		base, err := url.Parse(origin)
		if err != nil {
			return ""
		}
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
