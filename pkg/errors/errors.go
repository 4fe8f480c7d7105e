// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeRuleSpecInvalid      Code = "rule.spec.invalid"
	CodeRuleSynthesisFailure Code = "rule.synthesis.failure"
	CodeRuleNotFound         Code = "rule.not_found"
	CodeRulePatternInvalid   Code = "rule.pattern.invalid_format"

	CodeBatcherOverloaded Code = "batcher.queue.overloaded"
	CodeBatcherClosed     Code = "batcher.closed"

	CodeStageNotFound          Code = "stage.not_found"
	CodeStageWarmupFailure     Code = "stage.warmup.failure"
	CodeStageEvaluateFallback  Code = "stage.evaluate.fallback"
	CodeStageEvaluateTimeout   Code = "stage.evaluate.timeout"
	CodeStageTransitionInvalid Code = "stage.transition.invalid"

	CodeSchedulerNotRunning      Code = "scheduler.not_running"
	CodeSchedulerShutdownTimeout Code = "scheduler.shutdown.timeout"

	CodeStoreRuleSaveFailure     Code = "store.rule.save.failure"
	CodeStoreRuleDeleteFailure   Code = "store.rule.delete.failure"
	CodeStoreRuleNotFound        Code = "store.rule.get.not_found"
	CodeStoreIncidentSaveFailure Code = "store.incident.save.failure"
	CodeStoreDatabaseFailure     Code = "store.database.failure"
	CodeStoreBackendUnsupported  Code = "store.backend.unsupported"
	CodeStoreInvalidInput        Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeChannelBackendFailure    Code = "channel.backend.failure"
	CodeChannelSendFailure       Code = "channel.send.failure"
	CodeChannelTokenInvalid      Code = "channel.token.invalid"
	CodeChannelTokenCheckFailure Code = "channel.token.check.failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIResponseInvalid  Code = "cli.response.invalid"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
	CodeCLIDaemonNotRunning Code = "cli.daemon.not_running"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldChatID(value string) Attr {
	return Field("chat_id", value)
}

func FieldUserID(value string) Attr {
	return Field("user_id", value)
}

func FieldMessageID(value string) Attr {
	return Field("message_id", value)
}

func FieldRuleID(value string) Attr {
	return Field("rule_id", value)
}

func FieldStage(value string) Attr {
	return Field("stage", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsOverloaded(err error) bool {
	return reason(CodeOf(err)) == "overloaded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsOverloaded(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
