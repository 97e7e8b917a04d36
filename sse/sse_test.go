package sse

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"codeintel.dev/registry"
)

func newTestManager(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	reg := registry.New(log)
	return New(reg, log), reg
}

func TestManifestOmitsToolsWithMissingDependency(t *testing.T) {
	m, reg := newTestManager(t)
	m.RegisterTool(Tool{Name: "vector-search", Requires: "knowledgebase"})
	m.RegisterTool(Tool{Name: "task-status", Requires: "taskmanager"})

	reg.Register("knowledgebase", false, noopChecker{})

	manifest := m.Manifest()
	require.Contains(t, manifest, "vector-search")
	require.NotContains(t, manifest, "task-status")
}

type noopChecker struct{}

func (noopChecker) Status(ctx context.Context) error { return nil }

func TestDispatchRunsToolAndSendsResult(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterTool(Tool{
		Name: "echo",
		Handle: func(ctx context.Context, sess *Session, args map[string]interface{}) (interface{}, error) {
			return args["value"], nil
		},
	})

	sess := m.Open(context.Background())
	<-sess.out // ready event

	raw, _ := json.Marshal(ToolCall{Name: "echo", Args: map[string]interface{}{"value": "hi"}})
	m.Dispatch(context.Background(), sess.ID, raw)

	select {
	case ev := <-sess.out:
		require.Equal(t, "tool_result", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tool_result")
	}
}

func TestDispatchUnknownToolSendsError(t *testing.T) {
	m, _ := newTestManager(t)
	sess := m.Open(context.Background())
	<-sess.out

	raw, _ := json.Marshal(ToolCall{Name: "nope"})
	m.Dispatch(context.Background(), sess.ID, raw)

	ev := <-sess.out
	require.Equal(t, "tool_error", ev.Name)
}

func TestCloseSendsNoFurtherEvents(t *testing.T) {
	m, _ := newTestManager(t)
	sess := m.Open(context.Background())
	<-sess.out
	m.Close(sess.ID)

	_, ok := <-sess.out
	require.False(t, ok)
}
