package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mattjoyce/githubdeploy/internal/config"
	"github.com/mattjoyce/githubdeploy/internal/deploylog"
)

// Authenticate decides whether req is an authentic push to the deploy branch.
//
// Checks run in a fixed order and stop at the first failure:
// method, user agent, event type, payload shape, signature, branch.
// Every failure writes its own line to sink before the *RejectionError is
// returned, so the deploy log always names the earliest failing check.
func Authenticate(cfg *config.Config, req *Request, sink *deploylog.Sink) error {
	if err := checkHeaders(cfg, req, sink); err != nil {
		return err
	}
	return checkPayload(cfg, req, sink)
}

func checkHeaders(cfg *config.Config, req *Request, sink *deploylog.Sink) error {
	if req.Method != http.MethodPost {
		return reject(sink, ReasonWrongMethod, "headers: failed request method check")
	}

	if !strings.HasPrefix(req.UserAgent, AgentPrefix) {
		return reject(sink, ReasonUnknownAgent, "headers: failed user agent check")
	}

	if !cfg.AllowsEvent(req.Event) {
		return reject(sink, ReasonUnsupportedEvent, "headers: failed event type check")
	}

	sink.Append("headers: passed")
	return nil
}

func checkPayload(cfg *config.Config, req *Request, sink *deploylog.Sink) error {
	fields, ok := parseObject(req.Body)
	if !ok {
		return reject(sink, ReasonMalformedPayload, "payload: failed JSON validity check")
	}

	if !verifySignature(req.Body, req.Signature, cfg.PayloadSecret) {
		return reject(sink, ReasonBadSignature, "payload: failed payload checksum")
	}

	if ref, _ := stringField(fields, "ref"); ref != "refs/heads/"+cfg.DeployBranch {
		return reject(sink, ReasonWrongBranch, "payload: wrong branch")
	}

	sink.Append("payload: passed")
	return nil
}

func reject(sink *deploylog.Sink, reason Reason, line string) error {
	sink.Append(line)
	return &RejectionError{Reason: reason}
}

// parseObject decodes body as a JSON object, keeping member values raw.
func parseObject(body []byte) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
