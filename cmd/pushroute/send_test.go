package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/pushroute/internal/model"
)

func TestBuildSendPayload(t *testing.T) {
	base := &model.Payload{
		Notification: &model.PayloadNotification{Title: "From file", Body: "file body"},
		Data:         model.Data{"campaign": "spring"},
	}

	tests := []struct {
		name   string
		base   *model.Payload
		title  string
		body   string
		url    string
		data   map[string]string
		want   *model.Payload
		isZero bool
	}{
		{
			name:   "nothing set",
			want:   &model.Payload{},
			isZero: true,
		},
		{
			name:  "notification from flags",
			title: "Promo",
			body:  "50% off",
			url:   "/offers",
			want: &model.Payload{
				Notification: &model.PayloadNotification{Title: "Promo", Body: "50% off"},
				Data:         model.Data{"url": "/offers"},
			},
		},
		{
			name: "data only",
			data: map[string]string{"title": "Promo"},
			want: &model.Payload{Data: model.Data{"title": "Promo"}},
		},
		{
			name:  "flags override file",
			base:  base,
			title: "Override",
			data:  map[string]string{"campaign": "summer"},
			want: &model.Payload{
				Notification: &model.PayloadNotification{Title: "Override", Body: "file body"},
				Data:         model.Data{"campaign": "summer"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSendPayload(tt.base, tt.title, tt.body, tt.url, tt.data)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.isZero, got.IsEmpty())
		})
	}

	// The base payload is not modified
	assert.Equal(t, "From file", base.Notification.Title)
	assert.Equal(t, "spring", base.Data["campaign"])
}
