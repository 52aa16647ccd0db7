package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SettlementNotice is the canonical settlement callback tuple. Every
// accepted payload shape is mapped onto it before it reaches the
// reconciler, which stays shape-agnostic.
type SettlementNotice struct {
	TransferID    string
	ReportedState string
	Fulfilment    string
}

// Adapter integrations disagree on field names; these are the accepted
// aliases in priority order.
var (
	transferIDKeys = []string{"transferId", "transfer_id", "id"}
	stateKeys      = []string{"transferState", "state", "status", "reported_state"}
	proofKeys      = []string{"fulfilment", "fulfillment", "proof", "proof_token"}
)

// NormalizeCallback maps a raw per-transfer callback body onto a
// SettlementNotice. The path identifier wins only when the body carries
// none. An empty body is a bare completion acknowledgment.
func NormalizeCallback(pathTransferID string, payload []byte) (SettlementNotice, error) {
	notice := SettlementNotice{TransferID: strings.TrimSpace(pathTransferID)}
	if len(bytes.TrimSpace(payload)) == 0 {
		if notice.TransferID == "" {
			return SettlementNotice{}, errors.New("transfer id is required")
		}
		return notice, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return SettlementNotice{}, fmt.Errorf("invalid callback payload: %w", err)
	}
	return noticeFromFields(notice.TransferID, raw)
}

// NoticeFromResult maps one entry of a batch callback's
// individualTransferResults list onto a SettlementNotice.
func NoticeFromResult(raw map[string]any) (SettlementNotice, error) {
	return noticeFromFields("", raw)
}

func noticeFromFields(fallbackTransferID string, raw map[string]any) (SettlementNotice, error) {
	notice := SettlementNotice{TransferID: fallbackTransferID}
	if v := firstString(raw, transferIDKeys); v != "" {
		notice.TransferID = v
	}
	notice.ReportedState = firstString(raw, stateKeys)
	notice.Fulfilment = firstString(raw, proofKeys)
	if notice.TransferID == "" {
		return SettlementNotice{}, errors.New("transfer id is required")
	}
	return notice, nil
}

func firstString(raw map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
