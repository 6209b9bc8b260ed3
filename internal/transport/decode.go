package transport

import "encoding/json"

// DecodeInboundPayload unmarshals an inbound message body into v,
// accepting two equally valid wire shapes: the payload nested under a
// `data` key, or the payload's fields flattened directly at the
// message root. Both shapes are observed across decision,
// execute_pending_action and cancel_pending_action message types; this
// keeps the decoder tolerant of either without the caller needing to
// know which one it was sent.
func DecodeInboundPayload(body json.RawMessage, v any) error {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Data) > 0 {
		return json.Unmarshal(wrapper.Data, v)
	}
	return json.Unmarshal(body, v)
}
