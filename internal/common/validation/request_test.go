package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"push-dispatch/internal/models"
)

func TestValidateNotifyRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       *models.NotificationRequest
		wantValid bool
		wantField string
	}{
		{
			name:      "minimal valid request",
			req:       &models.NotificationRequest{Title: "hi"},
			wantValid: true,
		},
		{
			name:      "missing title",
			req:       &models.NotificationRequest{Body: "no title"},
			wantValid: false,
			wantField: "title",
		},
		{
			name:      "title too long",
			req:       &models.NotificationRequest{Title: strings.Repeat("x", 201)},
			wantValid: false,
			wantField: "title",
		},
		{
			name:      "body too long",
			req:       &models.NotificationRequest{Title: "hi", Body: strings.Repeat("x", 2001)},
			wantValid: false,
			wantField: "body",
		},
		{
			name:      "negative ttl",
			req:       &models.NotificationRequest{Title: "hi", TTL: -1},
			wantValid: false,
			wantField: "ttl",
		},
		{
			name:      "ttl above push service cap",
			req:       &models.NotificationRequest{Title: "hi", TTL: 2419201},
			wantValid: false,
			wantField: "ttl",
		},
		{
			name: "too many actions",
			req: &models.NotificationRequest{
				Title: "hi",
				Actions: []models.Action{
					{Action: "a", Title: "A"}, {Action: "b", Title: "B"},
					{Action: "c", Title: "C"}, {Action: "d", Title: "D"},
					{Action: "e", Title: "E"},
				},
			},
			wantValid: false,
			wantField: "actions",
		},
		{
			name: "action missing title",
			req: &models.NotificationRequest{
				Title:   "hi",
				Actions: []models.Action{{Action: "open"}},
			},
			wantValid: false,
			wantField: "actions[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateNotifyRequest(tt.req)
			assert.Equal(t, tt.wantValid, result.Valid)
			if !tt.wantValid {
				assert.Equal(t, tt.wantField, result.Errors[0].Field)
				assert.Contains(t, result.FirstError(), tt.wantField)
			}
		})
	}
}
