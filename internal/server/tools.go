package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Assistant tool names the voice agent can invoke mid-call.
const (
	toolBookMeeting  = "book_meeting"
	toolMarkRejected = "mark_rejected"
)

type toolCallRequest struct {
	Message struct {
		Type string `json:"type"`
		Call struct {
			ID string `json:"id"`
		} `json:"call"`
		ToolCallList []toolCall `json:"toolCallList"`
	} `json:"message"`
}

type toolCall struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Function *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
	Arguments json.RawMessage `json:"arguments"`
}

func (tc toolCall) name() string {
	if tc.Function != nil && tc.Function.Name != "" {
		return tc.Function.Name
	}
	return tc.Name
}

func (tc toolCall) arguments() json.RawMessage {
	if tc.Function != nil && len(tc.Function.Arguments) > 0 {
		return tc.Function.Arguments
	}
	return tc.Arguments
}

type toolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

// handleVoiceTools serves in-call tool invocations. Results go back in
// the body as strings the assistant reads out; a failed tool call is
// still a 200 so the conversation can continue.
func (s *Server) handleVoiceTools(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !verifySignature(r, body, s.webhookSecret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req toolCallRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	providerCallID := req.Message.Call.ID
	if providerCallID == "" {
		providerCallID = r.Header.Get(headerCallID)
	}

	results := make([]toolResult, 0, len(req.Message.ToolCallList))
	for _, tc := range req.Message.ToolCallList {
		results = append(results, toolResult{
			ToolCallID: tc.ID,
			Result:     s.runTool(r.Context(), providerCallID, tc),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) runTool(ctx context.Context, providerCallID string, tc toolCall) string {
	c, err := s.store.GetCallByProviderID(ctx, providerCallID)
	if err != nil {
		zap.L().Error("server: look up call for tool", zap.String("provider_call_id", providerCallID), zap.Error(err))
		return "Something went wrong on our end. Please try again."
	}
	if c == nil {
		zap.L().Info("server: tool call for unknown provider call",
			zap.String("tool", tc.name()),
			zap.String("provider_call_id", providerCallID))
		return "I could not find this call. Please try again later."
	}

	switch tc.name() {
	case toolBookMeeting:
		var args struct {
			Time string `json:"time"`
		}
		if err := json.Unmarshal(tc.arguments(), &args); err != nil || args.Time == "" {
			return "I did not catch that time. Could you repeat it?"
		}
		res, err := s.booker.Book(ctx, c.ID, args.Time)
		if err != nil {
			return "I could not understand that time. Could you say it again?"
		}
		if !res.Booked {
			return fmt.Sprintf("That slot is no longer available (%s). Could we pick another time?", res.Reason)
		}
		return fmt.Sprintf("Great, you are confirmed for %s.", res.MeetingTime.Format("Monday, Jan 2 at 3:04 PM MST"))

	case toolMarkRejected:
		if err := s.booker.Reject(ctx, c.ID); err != nil {
			zap.L().Error("server: mark rejected", zap.String("call_id", c.ID), zap.Error(err))
			return "Understood."
		}
		return "Understood, we won't follow up."

	default:
		zap.L().Debug("server: unknown tool", zap.String("tool", tc.name()))
		return "That action is not available."
	}
}
