// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usherauth/usher/pkg/errutil"
)

func TestSetup_RedactsPII(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("usher", "1.0.0", "json", &buf)

	logger.Info("login",
		"email", "a@x.com",
		"password", "hunter2",
		"account_id", "01HZY",
		slog.Group("request", "session_id", "abc-123", "route", "/profile"),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())

	assert.Equal(t, Redaction, entry["email"])
	assert.Equal(t, Redaction, entry["password"])
	assert.Equal(t, "01HZY", entry["account_id"])

	group, ok := entry["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Redaction, group["session_id"])
	assert.Equal(t, "/profile", group["route"])

	assert.NotContains(t, buf.String(), "a@x.com")
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestSetup_RedactsPIIInTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("usher", "1.0.0", "text", &buf)

	logger.Info("reset", "reset_token", "6f1c")

	assert.Contains(t, buf.String(), "reset_token=***")
	assert.NotContains(t, buf.String(), "6f1c")
}

func TestLogError_ScrubsPIIPairsInErrorText(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("usher", "1.0.0", "json", &buf)

	errutil.LogError(logger, "store failed session_id=abc-123",
		oops.Code("STORE_UNAVAILABLE").Errorf("query failed for email=bob@example.com"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "store failed session_id=***", entry["msg"])
	assert.Equal(t, "query failed for email=***", entry["error"])
	assert.Equal(t, "STORE_UNAVAILABLE", entry["code"])
	assert.NotContains(t, buf.String(), "bob@example.com")
	assert.NotContains(t, buf.String(), "abc-123")
}

func TestRedactAttr(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"pii key", slog.String("session_token", "t"), Redaction},
		{"case insensitive", slog.String("Email", "a@x.com"), Redaction},
		{"non-string value", slog.Int("password", 1234), Redaction},
		{"other key untouched", slog.String("route", "/users"), "/users"},
		{"error text scrubbed", slog.String("error", "lookup email=a@x.com failed"), "lookup email=*** failed"},
		{"error value scrubbed", slog.Any("error", errors.New("reset_token=6f1c rejected")), "reset_token=*** rejected"},
		{"message scrubbed", slog.String(slog.MessageKey, "retry password=hunter2"), "retry password=***"},
		{"prose on other keys kept", slog.String("detail", "email=a@x.com"), "email=a@x.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactAttr(nil, tt.attr)
			assert.Equal(t, tt.attr.Key, got.Key)
			assert.Equal(t, tt.want, got.Value.String())
		})
	}
}

func TestFilterDatum(t *testing.T) {
	tests := []struct {
		name      string
		fields    []string
		message   string
		separator string
		want      string
	}{
		{
			name:      "redacts listed fields",
			fields:    []string{"password", "date_of_birth"},
			message:   "name=egg;email=eggmin@eggsample.com;password=eggcellent;date_of_birth=12/12/1986;",
			separator: ";",
			want:      "name=egg;email=eggmin@eggsample.com;password=xxx;date_of_birth=xxx;",
		},
		{
			name:      "other separator",
			fields:    []string{"email"},
			message:   "name=bob,email=bob@dylan.com,ip=127.0.0.1",
			separator: ",",
			want:      "name=bob,email=xxx,ip=127.0.0.1",
		},
		{
			name:      "empty value",
			fields:    []string{"ssn"},
			message:   "ssn=;name=a;",
			separator: ";",
			want:      "ssn=xxx;name=a;",
		},
		{
			name:      "regex metacharacters are literal",
			fields:    []string{"a.b"},
			message:   "a.b=1;axb=2;",
			separator: ";",
			want:      "a.b=xxx;axb=2;",
		},
		{
			name:      "no fields",
			fields:    nil,
			message:   "password=x;",
			separator: ";",
			want:      "password=x;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterDatum(tt.fields, "xxx", tt.message, tt.separator))
		})
	}
}
