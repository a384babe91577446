package stream

import (
	"strings"

	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

// ApprovalResolved builds the event announcing that req left the pending
// status. The conversation and tool call are recovered from the request's
// tool call key ("<conversation>/<call>").
func ApprovalResolved(req ciba.Request) Event {
	conv, callID := req.ToolCallKey, ""
	if i := strings.LastIndex(req.ToolCallKey, "/"); i >= 0 {
		conv, callID = req.ToolCallKey[:i], req.ToolCallKey[i+1:]
	}
	return NewEvent(EventApprovalResolved, conv, "", ApprovalResolvedPayload{
		AuthReqID:  req.ID,
		ToolCallID: callID,
		Status:     string(req.Status),
	})
}
