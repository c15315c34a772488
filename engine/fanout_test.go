package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/provider"
)

func dispatchCall(tasks string) provider.ToolCall {
	return provider.ToolCall{
		ID:        "d1",
		Name:      FanOutToolName,
		Arguments: fmt.Sprintf(`{"tasks":%s}`, tasks),
	}
}

func TestFanOutJoinsAllTasks(t *testing.T) {
	mock := provider.NewMock("m")
	mock.Enqueue(toolCallResponse(dispatchCall(`[
		{"id":"t1","description":"research"},
		{"id":"t2","description":"summarize"},
		{"id":"t3","description":"verify"}
	]`)))
	mock.Enqueue(&provider.Response{Text: "combined", FinishReason: "stop"})

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = fastConfig()
		o.SubAgent = func(ctx context.Context, task SubTask) (string, error) {
			time.Sleep(30 * time.Millisecond)
			if task.ID == "t2" {
				return "", fmt.Errorf("agent unavailable")
			}
			return "completed " + task.Description, nil
		}
	})

	conv := NewConversation()
	start := time.Now()
	result, err := eng.Run(context.Background(), conv, "do the work")
	require.NoError(t, err)
	assert.Equal(t, "combined", result.Text)
	assert.Less(t, time.Since(start), 85*time.Millisecond, "dispatches run concurrently")

	messages := conv.Messages()
	require.Len(t, messages, 4)
	require.Len(t, messages[2].ToolResults, 1)

	lines := strings.Split(messages[2].ToolResults[0].Text, "\n")
	require.Len(t, lines, 3, "one outcome per task, submitted as a single batch")
	assert.Equal(t, "task t1: success: completed research", lines[0])
	assert.Equal(t, "task t2: error: agent unavailable", lines[1])
	assert.Equal(t, "task t3: success: completed verify", lines[2])
	assert.False(t, messages[2].ToolResults[0].IsError, "per-task failures do not fail the batch")
}

func TestFanOutPanicIsolated(t *testing.T) {
	mock := provider.NewMock("m")
	mock.Enqueue(toolCallResponse(dispatchCall(`[
		{"id":"t1","description":"ok"},
		{"id":"t2","description":"boom"}
	]`)))
	mock.Enqueue(&provider.Response{Text: "done", FinishReason: "stop"})

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = fastConfig()
		o.SubAgent = func(ctx context.Context, task SubTask) (string, error) {
			if task.ID == "t2" {
				panic("sub-agent exploded")
			}
			return "fine", nil
		}
	})

	conv := NewConversation()
	_, err := eng.Run(context.Background(), conv, "go")
	require.NoError(t, err)

	text := conv.Messages()[2].ToolResults[0].Text
	assert.Contains(t, text, "task t1: success: fine")
	assert.Contains(t, text, "task t2: error: panic")
}

func TestFanOutInvalidArguments(t *testing.T) {
	mock := provider.NewMock("m")
	mock.Enqueue(toolCallResponse(provider.ToolCall{ID: "d1", Name: FanOutToolName, Arguments: `{"tasks": "not-a-list"}`}))
	mock.Enqueue(&provider.Response{Text: "done", FinishReason: "stop"})

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = fastConfig()
		o.SubAgent = func(ctx context.Context, task SubTask) (string, error) { return "", nil }
	})

	conv := NewConversation()
	_, err := eng.Run(context.Background(), conv, "go")
	require.NoError(t, err)

	res := conv.Messages()[2].ToolResults[0]
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "invalid dispatch arguments")
}

func TestFanOutEmptyTaskList(t *testing.T) {
	mock := provider.NewMock("m")
	mock.Enqueue(toolCallResponse(dispatchCall(`[]`)))
	mock.Enqueue(&provider.Response{Text: "done", FinishReason: "stop"})

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = fastConfig()
		o.SubAgent = func(ctx context.Context, task SubTask) (string, error) { return "", nil }
	})

	conv := NewConversation()
	_, err := eng.Run(context.Background(), conv, "go")
	require.NoError(t, err)

	res := conv.Messages()[2].ToolResults[0]
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "at least one task")
}
