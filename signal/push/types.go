// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package push

// Config contains FCM configuration.
type Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
	CredentialsJSON string `yaml:"credentials_json" mapstructure:"credentials_json"`
}

// Notification is a push payload to be delivered. Data is sent verbatim as
// the FCM data map; Title and Body are optional and produce a visible
// notification when set.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// SendResult is the outcome of delivery to a single token.
type SendResult struct {
	Token     string `json:"token"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchResult aggregates per-token outcomes of one dispatch.
type BatchResult struct {
	SuccessCount int          `json:"successCount"`
	FailureCount int          `json:"failureCount"`
	Results      []SendResult `json:"results"`
}
