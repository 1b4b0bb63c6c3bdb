package esdb

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mongodb/docstore/db"
	"github.com/pkg/errors"
)

type errorCause struct {
	Type      string       `json:"type"`
	Reason    string       `json:"reason"`
	CausedBy  *errorCause  `json:"caused_by"`
	RootCause []errorCause `json:"root_cause"`
}

type errorBody struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}

// parseError reads the error object of a failed response. Some
// endpoints report the error as a bare string.
func parseError(body []byte) errorCause {
	var out errorBody
	if err := json.Unmarshal(body, &out); err != nil || len(out.Error) == 0 {
		return errorCause{Reason: strings.TrimSpace(string(body))}
	}

	var cause errorCause
	if err := json.Unmarshal(out.Error, &cause); err == nil {
		return cause
	}
	var reason string
	if err := json.Unmarshal(out.Error, &reason); err == nil {
		return errorCause{Reason: reason}
	}
	return errorCause{Reason: string(out.Error)}
}

func (c errorCause) has(errType string) bool {
	if c.Type == errType {
		return true
	}
	if c.CausedBy != nil && c.CausedBy.has(errType) {
		return true
	}
	for _, root := range c.RootCause {
		if root.Type == errType {
			return true
		}
	}
	return false
}

func (c errorCause) message() string {
	switch {
	case c.Type == "" && c.Reason == "":
		return "unknown error"
	case c.Type == "":
		return c.Reason
	case c.Reason == "":
		return c.Type
	default:
		return c.Type + ": " + c.Reason
	}
}

// responseError classifies a failed response. Index level failures
// drop the document id so callers can tell a missing index from a
// missing document.
func responseError(op, index, id string, status int, body []byte) error {
	cause := parseError(body)
	kind := classify(status, cause)
	if kind == db.KindNotFound && (cause.has("index_not_found_exception") || cause.has("search_context_missing_exception")) {
		id = ""
	}
	return db.NewError(kind, op, index, id, errors.New(cause.message()))
}

func classify(status int, cause errorCause) db.Kind {
	switch {
	case cause.has("index_not_found_exception"),
		cause.has("document_missing_exception"),
		cause.has("aliases_not_found_exception"),
		cause.has("search_context_missing_exception"):
		return db.KindNotFound
	case cause.has("resource_already_exists_exception"):
		return db.KindAlreadyExists
	case cause.has("version_conflict_engine_exception"):
		if strings.Contains(cause.Reason, "document already exists") {
			return db.KindAlreadyExists
		}
		return db.KindVersionConflict
	case cause.has("script_exception"):
		return db.KindScriptFailure
	case cause.has("mapper_parsing_exception"):
		return db.KindInvalidSchema
	case cause.has("illegal_argument_exception"):
		switch {
		case strings.Contains(cause.Reason, "cannot be changed from type"), strings.Contains(cause.Reason, "mapper ["):
			return db.KindMappingConflict
		case strings.Contains(cause.Reason, "number_of_shards"), strings.Contains(cause.Reason, "non dynamic settings"):
			return db.KindImmutableSetting
		}
		return db.KindInvalidRequest
	}

	switch {
	case status == http.StatusNotFound:
		return db.KindNotFound
	case status == http.StatusConflict:
		return db.KindVersionConflict
	case status == http.StatusTooManyRequests, status >= 500:
		return db.KindBackendUnavailable
	case status >= 400:
		return db.KindInvalidRequest
	}
	return db.KindUnknown
}

func transportError(ctx context.Context, op, index, id string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.WithStack(ctxErr)
	}
	return db.NewError(db.KindBackendUnavailable, op, index, id, err)
}
