// File: cdp/browser.go
// Package cdp minimal browser-level dispatcher.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Browser answers the handful of methods a driver issues before it attaches
// to a page: version and target discovery, and the close command that ends
// the session. Everything else gets a JSON-RPC "method not found" error so
// drivers fail loudly instead of hanging.

package cdp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Product strings reported by Browser.getVersion.
const (
	productName     = "cdpserve"
	productVersion  = "1.0"
	protocolVersion = "1.3"
)

// message is the decoded shape of one inbound protocol command.
type message struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Browser is the default Dispatcher for a fresh connection.
type Browser struct {
	targetDiscovery bool
}

// NewBrowser constructs a dispatcher with no page attached.
func NewBrowser() *Browser { return &Browser{} }

var _ Dispatcher = (*Browser)(nil)

// HandleMessage decodes one command and produces its reply.
func (b *Browser) HandleMessage(msg []byte) ([]byte, bool) {
	var m message
	if err := json.Unmarshal(msg, &m); err != nil {
		return errorReply(0, -32700, "parse error"), true
	}

	switch m.Method {
	case "Browser.getVersion":
		return resultReply(m, map[string]string{
			"protocolVersion": protocolVersion,
			"product":         productName + "/" + productVersion,
			"revision":        "",
			"userAgent":       productName,
			"jsVersion":       "",
		}), true
	case "Browser.close":
		// Acknowledged, then the session ends.
		return resultReply(m, struct{}{}), false
	case "Browser.setDownloadBehavior", "Target.setAutoAttach", "Page.enable",
		"Runtime.enable", "Network.enable", "Security.setIgnoreCertificateErrors":
		return resultReply(m, struct{}{}), true
	case "Target.setDiscoverTargets":
		b.targetDiscovery = true
		return resultReply(m, struct{}{}), true
	case "Target.getTargets":
		return resultReply(m, map[string]any{"targetInfos": []any{}}), true
	}
	return errorReply(m.ID, -32601, fmt.Sprintf("method not found: %s", m.Method)), true
}

// PageWait: no page is ever attached at the browser level, so the session
// always falls back to polling the outbound HTTP client.
func (b *Browser) PageWait(time.Duration) WaitResult {
	return WaitIdleNoPage
}

func resultReply(m message, result any) []byte {
	reply := struct {
		ID        int64  `json:"id"`
		Result    any    `json:"result"`
		SessionID string `json:"sessionId,omitempty"`
	}{ID: m.ID, Result: result, SessionID: m.SessionID}
	out, err := json.Marshal(reply)
	if err != nil {
		return errorReply(m.ID, -32603, "internal error")
	}
	return out
}

func errorReply(id int64, code int, text string) []byte {
	reply := struct {
		ID    int64 `json:"id"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{ID: id}
	reply.Error.Code = code
	reply.Error.Message = text
	out, _ := json.Marshal(reply)
	return out
}
