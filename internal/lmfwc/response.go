package lmfwc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ActivationRecord is one remote activation observed in a response.
// Records are ephemeral: the token selector inspects them and they are
// discarded after extraction.
type ActivationRecord struct {
	Token         string `json:"token"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	DeactivatedAt string `json:"deactivated_at"`
}

// ActivationData holds a response's activation payload. The remote
// serves it either as a single object or as a list of historical
// records; both forms normalize into Records.
type ActivationData struct {
	Records []ActivationRecord

	present bool
	list    bool
}

// Present reports whether the field appeared in the response at all.
func (a ActivationData) Present() bool { return a.present }

// IsList reports whether the wire form was an array of records.
func (a ActivationData) IsList() bool { return a.list }

// UnmarshalJSON accepts an object, an array of objects, or null.
// Scalar payloads are tolerated and carry no token information.
func (a *ActivationData) UnmarshalJSON(b []byte) error {
	a.Records = nil
	a.present = false
	a.list = false

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	a.present = true

	switch trimmed[0] {
	case '[':
		a.list = true
		return json.Unmarshal(trimmed, &a.Records)
	case '{':
		var rec ActivationRecord
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return err
		}
		a.Records = []ActivationRecord{rec}
		return nil
	default:
		return nil
	}
}

// ResponseData is the normalized payload of a successful call: the
// response's `data` object, or the whole body when the server omits
// the wrapper. Known fields are explicit; Raw keeps the full body
// verbatim for diagnostics.
type ResponseData struct {
	ExpiresAt      string         `json:"expiresAt"`
	ActivationData ActivationData `json:"activationData"`
	TimesActivated *int           `json:"timesActivated"`

	Raw json.RawMessage `json:"-"`
}

// HasActiveActivation reports whether any observed activation record
// lacks a deactivation timestamp, or the activation counter is
// positive.
func (r *ResponseData) HasActiveActivation() bool {
	if r == nil {
		return false
	}
	for _, rec := range r.ActivationData.Records {
		if rec.DeactivatedAt == "" {
			return true
		}
	}
	return r.TimesActivated != nil && *r.TimesActivated > 0
}

// classifyResponse applies the two-layer error contract to a received
// HTTP response. Layer one: any status >= 400 becomes a RequestError
// carrying a message extracted from the body. Layer two: an HTTP
// success whose body embeds errors/error_data becomes a ContractError.
// Anything else is the successful payload.
func classifyResponse(status int, contentType string, body []byte) (*ResponseData, error) {
	if status >= 400 {
		payload := httpErrorPayload(contentType, body)
		message := extractHTTPErrorMessage(payload)
		if message == "" {
			message = fmt.Sprintf("HTTP %d", status)
		}
		return nil, &RequestError{Message: message, Status: status, Payload: payload}
	}

	if !json.Valid(body) {
		return nil, &ContractError{
			Message: "invalid JSON response",
			Status:  status,
			Payload: rawWrap(body),
		}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Valid JSON that is not an object: pass through opaquely.
		return &ResponseData{Raw: append(json.RawMessage(nil), body...)}, nil
	}

	data, hasData := envelope["data"]
	if !hasData {
		return parseData(body, body), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err == nil {
		errsRaw, hasErrors := fields["errors"]
		errDataRaw, hasErrorData := fields["error_data"]
		if hasErrors || hasErrorData {
			code, msg, errStatus := extractEmbeddedError(errsRaw, errDataRaw)
			if msg == "" {
				msg = "Operation failed"
			}
			return nil, &ContractError{
				Message: msg,
				Code:    code,
				Status:  errStatus,
				Payload: append(json.RawMessage(nil), body...),
			}
		}
	}

	return parseData(data, body), nil
}

// parseData decodes the known fields of the payload and retains the
// full body verbatim. Shape mismatches on unknown servers are
// tolerated: unknown or oddly typed fields stay opaque in Raw.
func parseData(data, body json.RawMessage) *ResponseData {
	rd := &ResponseData{}
	_ = json.Unmarshal(data, rd)
	rd.Raw = append(json.RawMessage(nil), body...)
	return rd
}

// httpErrorPayload keeps a JSON error body verbatim and wraps anything
// else as {"raw": text}.
func httpErrorPayload(contentType string, body []byte) json.RawMessage {
	if strings.Contains(contentType, "json") && json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	return rawWrap(body)
}

func rawWrap(body []byte) json.RawMessage {
	wrapped, err := json.Marshal(map[string]string{"raw": string(body)})
	if err != nil {
		return json.RawMessage(`{"raw":""}`)
	}
	return wrapped
}

// extractHTTPErrorMessage pulls a human-readable message out of an
// HTTP error payload: the `message` field when present, otherwise the
// first string found inside any list-valued field. Keys are visited in
// sorted order so extraction is deterministic.
func extractHTTPErrorMessage(payload json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}

	if raw, ok := fields["message"]; ok {
		var message string
		if err := json.Unmarshal(raw, &message); err == nil && message != "" {
			return message
		}
	}

	for _, key := range sortedKeys(fields) {
		var list []interface{}
		if err := json.Unmarshal(fields[key], &list); err != nil {
			continue
		}
		for _, item := range list {
			if s, ok := item.(string); ok {
				return s
			}
		}
	}
	return ""
}

// extractEmbeddedError resolves the first error code from the embedded
// errors map, its first message, and its associated status when
// error_data carries one.
func extractEmbeddedError(errsRaw, errDataRaw json.RawMessage) (code, msg string, status int) {
	code = "lmfwc_error"

	var errs map[string]json.RawMessage
	_ = json.Unmarshal(errsRaw, &errs)
	if keys := sortedKeys(errs); len(keys) > 0 {
		code = keys[0]
		var messages []interface{}
		if err := json.Unmarshal(errs[code], &messages); err == nil && len(messages) > 0 {
			if s, ok := messages[0].(string); ok {
				msg = s
			} else {
				msg = fmt.Sprintf("%v", messages[0])
			}
		}
	}

	var errData map[string]struct {
		Status json.Number `json:"status"`
	}
	if err := json.Unmarshal(errDataRaw, &errData); err == nil {
		if ed, ok := errData[code]; ok {
			if n, err := strconv.Atoi(ed.Status.String()); err == nil {
				status = n
			} else if f, err := ed.Status.Float64(); err == nil {
				status = int(f)
			}
		}
	}
	return code, msg, status
}

func sortedKeys(m map[string]json.RawMessage) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
