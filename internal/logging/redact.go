// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redaction replaces redacted values.
const Redaction = "***"

// PIIFields are attribute keys never written in clear.
var PIIFields = []string{
	"email",
	"password",
	"new_password",
	"session_token",
	"reset_token",
	"session_id",
	"password_digest",
}

var piiKeys = func() map[string]struct{} {
	m := make(map[string]struct{}, len(PIIFields))
	for _, f := range PIIFields {
		m[f] = struct{}{}
	}
	return m
}()

// textSeparator ends a field=value pair inside log messages and error
// strings.
const textSeparator = " "

// freeTextKeys hold prose that may embed field=value pairs.
var freeTextKeys = map[string]struct{}{
	slog.MessageKey: {},
	"error":         {},
}

var piiText = datumPattern(PIIFields, textSeparator)

// RedactAttr is a slog ReplaceAttr hook that masks PIIFields at any group
// depth and scrubs PIIFields pairs out of the message and error text.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if _, ok := piiKeys[key]; ok {
		return slog.String(a.Key, Redaction)
	}
	if _, ok := freeTextKeys[key]; !ok {
		return a
	}

	v := a.Value.Resolve()
	switch {
	case v.Kind() == slog.KindString:
		return slog.String(a.Key, replaceDatum(piiText, Redaction, v.String()))
	case v.Kind() == slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, replaceDatum(piiText, Redaction, err.Error()))
		}
	}
	return a
}

// FilterDatum replaces the value of every field=value pair in message with
// redaction. A value runs until the next separator.
func FilterDatum(fields []string, redaction, message, separator string) string {
	if len(fields) == 0 || separator == "" {
		return message
	}
	return replaceDatum(datumPattern(fields, separator), redaction, message)
}

func datumPattern(fields []string, separator string) *regexp.Regexp {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return regexp.MustCompile(`(` + strings.Join(quoted, "|") + `)=[^` + regexp.QuoteMeta(separator) + `]*`)
}

func replaceDatum(re *regexp.Regexp, redaction, message string) string {
	return re.ReplaceAllStringFunc(message, func(match string) string {
		key, _, _ := strings.Cut(match, "=")
		return key + "=" + redaction
	})
}
