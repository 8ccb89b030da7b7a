package wompi

import (
	"encoding/json"
	"strings"
)

// Outcome is the interpreted settlement state of a payment link.
type Outcome string

const (
	OutcomeApproved Outcome = "aprobada"
	OutcomePending  Outcome = "pendiente"
	OutcomeFailed   Outcome = "rechazada"
	OutcomeUnknown  Outcome = "desconocido"
)

// The transaction detail has appeared under all of these names depending on
// gateway version, as a single object or as a list.
var transactionFields = []string{"transaccion", "ultimaTransaccion", "transacciones"}

var (
	approvedStatuses = map[string]bool{
		"aprobada": true,
		"approved": true,
	}
	pendingStatuses = map[string]bool{
		"pendiente":  true,
		"pending":    true,
		"en_proceso": true,
	}
	failedStatuses = map[string]bool{
		"rechazada": true,
		"declined":  true,
		"fallida":   true,
		"failed":    true,
		"anulada":   true,
		"voided":    true,
	}
)

// InferOutcome interprets a payment-link payload whose shape is not fixed.
// Candidate transaction nodes are collected from the known field names in
// order, flattening lists. Outcomes are resolved by priority: the first node
// carrying an approval wins over any pending or failed node, then pending over
// failed. Nodes with no recognizable field are skipped; if nothing classifies,
// the outcome is Unknown with nil evidence. Malformed payloads never error.
func InferOutcome(payload map[string]any) (Outcome, map[string]any) {
	nodes := collectNodes(payload)

	var pendingNode, failedNode map[string]any
	for _, node := range nodes {
		if isApproved(node) {
			return OutcomeApproved, node
		}
		status := statusOf(node)
		switch {
		case pendingStatuses[status] && pendingNode == nil:
			pendingNode = node
		case failedStatuses[status] && failedNode == nil:
			failedNode = node
		}
	}
	if pendingNode != nil {
		return OutcomePending, pendingNode
	}
	if failedNode != nil {
		return OutcomeFailed, failedNode
	}
	return OutcomeUnknown, nil
}

// collectNodes gathers candidate transaction objects in field order.
func collectNodes(payload map[string]any) []map[string]any {
	var nodes []map[string]any
	for _, field := range transactionFields {
		switch v := payload[field].(type) {
		case map[string]any:
			nodes = append(nodes, v)
		case []any:
			for _, item := range v {
				if node, ok := item.(map[string]any); ok {
					nodes = append(nodes, node)
				}
			}
		}
	}
	return nodes
}

// isApproved applies the per-node approval rules: the explicit boolean flag
// first, then the approved status strings.
func isApproved(node map[string]any) bool {
	if flag, ok := node["esAprobada"].(bool); ok && flag {
		return true
	}
	return approvedStatuses[statusOf(node)]
}

// statusOf extracts the status string case-insensitively; absence is simply
// an empty string, never an error.
func statusOf(node map[string]any) string {
	status, ok := node["estado"].(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(status))
}

// EvidenceSnapshot renders a truncated JSON snapshot of the classified node
// for the validation audit trail.
func EvidenceSnapshot(node map[string]any, max int) string {
	if node == nil {
		return ""
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return ""
	}
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
