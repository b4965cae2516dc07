package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
)

// chatModeSkipText acknowledges a tool request that chat mode does not
// execute and names what would have run. Kept matter-of-fact: no apology,
// no offer to retry.
func chatModeSkipText(call message.ToolCall) string {
	args, err := json.Marshal(call.Arguments)
	if err != nil || len(call.Arguments) == 0 {
		args = []byte("{}")
	}
	return fmt.Sprintf("Tool calls are not executed in chat mode. This would have run %s with arguments %s. Switch the mode to auto or approve to run tools.",
		call.Name, args)
}

const declinedText = "The user declined this tool call."

type toolCategory int

const (
	categoryStandard toolCategory = iota
	categoryPlatform
	categoryFrontend
)

func (a *Agent) categorize(name string) toolCategory {
	if a.frontend[name] {
		return categoryFrontend
	}
	switch name {
	case extension.ToolReadResource, extension.ToolListResources,
		extension.ToolSearchExtensions, extension.ToolEnableExtension:
		return categoryPlatform
	}
	return categoryStandard
}

// dispatchAll executes every tool request of one assistant reply and folds
// the outcomes into a single user message, with the tool responses in the
// same order as the original requests.
func (a *Agent) dispatchAll(ctx context.Context, requests []message.ToolRequest) message.Message {
	results := make([]message.Content, len(requests))

	// Malformed requests and chat mode short-circuit before any routing.
	var runnable []int
	for i, req := range requests {
		if req.Call == nil {
			results[i] = message.ToolResponseError(req.ID, "the tool call could not be interpreted: "+req.Error)
			continue
		}
		if a.cfg.Mode == ModeChat {
			results[i] = message.ToolResponseItem(req.ID, []message.Content{message.TextItem(chatModeSkipText(*req.Call))})
			continue
		}
		runnable = append(runnable, i)
	}

	// Platform and frontend requests run sequentially: platform calls
	// mutate the catalog, frontend calls serialize on the user anyway.
	// Standard requests fan out concurrently in auto mode.
	var wg sync.WaitGroup
	for _, i := range runnable {
		req := requests[i]
		switch a.categorize(req.Call.Name) {
		case categoryPlatform:
			results[i] = a.runPlatformTool(ctx, req)
		case categoryFrontend:
			results[i] = a.awaitFrontendTool(ctx, req)
		default:
			if a.cfg.Mode == ModeApprove || a.cfg.Mode == ModeSmartApprove {
				results[i] = a.runWithApproval(ctx, req)
				continue
			}
			wg.Add(1)
			go func(i int, req message.ToolRequest) {
				defer wg.Done()
				results[i] = a.runTool(ctx, req)
			}(i, req)
		}
	}
	wg.Wait()

	response := message.New(message.RoleUser)
	for _, r := range results {
		response = response.WithContent(r)
	}
	return response
}

// runTool executes one extension tool. Failures become error responses so
// the model can react; they never abort the turn.
func (a *Agent) runTool(ctx context.Context, req message.ToolRequest) message.Content {
	slog.Debug("Dispatching tool call", "tool", req.Call.Name, "id", req.ID)
	content, err := a.cfg.Extensions.DispatchToolCall(ctx, *req.Call)
	if err != nil {
		slog.Warn("Tool call failed", "tool", req.Call.Name, "id", req.ID, "error", err)
		return message.ToolResponseError(req.ID, err.Error())
	}
	return message.ToolResponseItem(req.ID, content)
}

// runWithApproval blocks on the user's decision before executing.
func (a *Agent) runWithApproval(ctx context.Context, req message.ToolRequest) message.Content {
	approved, err := a.broker.awaitConfirmation(ctx, req.ID)
	if err != nil {
		return message.ToolResponseError(req.ID, "awaiting confirmation: "+err.Error())
	}
	if !approved {
		return message.ToolResponseItem(req.ID, []message.Content{message.TextItem(declinedText)})
	}
	return a.runTool(ctx, req)
}

// awaitFrontendTool waits for the caller to execute the tool and submit
// the result.
func (a *Agent) awaitFrontendTool(ctx context.Context, req message.ToolRequest) message.Content {
	slog.Debug("Awaiting frontend tool result", "tool", req.Call.Name, "id", req.ID)
	result, err := a.broker.awaitToolResult(ctx, req.ID)
	if err != nil {
		return message.ToolResponseError(req.ID, "awaiting frontend result: "+err.Error())
	}
	if result.Error != "" {
		return message.ToolResponseError(req.ID, result.Error)
	}
	return message.ToolResponseItem(req.ID, result.Content)
}

// runPlatformTool serves the runtime's own tools.
func (a *Agent) runPlatformTool(ctx context.Context, req message.ToolRequest) message.Content {
	var (
		content []message.Content
		err     error
	)
	switch req.Call.Name {
	case extension.ToolReadResource:
		content, err = a.cfg.Extensions.ReadResource(ctx, req.Call.Arguments)
	case extension.ToolListResources:
		content, err = a.cfg.Extensions.ListResources(ctx, req.Call.Arguments)
	case extension.ToolSearchExtensions:
		content, err = a.cfg.Extensions.SearchAvailableExtensions(ctx)
	case extension.ToolEnableExtension:
		name, _ := req.Call.Arguments["extension_name"].(string)
		if name == "" {
			err = errors.New("enable_extension requires an extension_name")
			break
		}
		if err = a.cfg.Extensions.EnableExtension(name); err == nil {
			slog.Info("Extension enabled", "extension", name)
			content = []message.Content{message.TextItem("extension " + name + " enabled")}
		}
	}
	if err != nil {
		return message.ToolResponseError(req.ID, err.Error())
	}
	return message.ToolResponseItem(req.ID, content)
}
