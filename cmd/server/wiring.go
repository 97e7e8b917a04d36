package main

import (
	"context"
	"fmt"

	"codeintel.dev/adrmanager"
	"codeintel.dev/codeerr"
	"codeintel.dev/debuganalyzer"
	"codeintel.dev/docmanager"
	"codeintel.dev/knowledgebase"
	"codeintel.dev/sse"
	"codeintel.dev/taskmanager"
)

// registerTaskHandlers binds the analyze-code, debug-issue and crawl-docs
// task types to the C5-C8 component that actually does the work. No
// handler is registered for create-adr or index-pattern, so Submit rejects
// those types.
func registerTaskHandlers(tasks *taskmanager.Manager, kb *knowledgebase.KnowledgeBase, debug *debuganalyzer.Analyzer, docs *docmanager.Manager) {
	tasks.RegisterHandler("analyze-code", func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		code, _ := input["code"].(string)
		filter := &knowledgebase.Filter{KindIn: []knowledgebase.Kind{knowledgebase.KindCode}}
		return kb.Search(ctx, code, 5, filter)
	})

	tasks.RegisterHandler("debug-issue", func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		description, _ := input["description"].(string)
		issueContext, _ := input["context"].(string)
		return debug.Analyze(ctx, description, issueContext)
	})

	tasks.RegisterHandler("crawl-docs", func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		rawURLs, _ := input["urls"].([]interface{})
		urls := make([]string, 0, len(rawURLs))
		for _, u := range rawURLs {
			if s, ok := u.(string); ok {
				urls = append(urls, s)
			}
		}
		sourceType, _ := input["source_type"].(string)
		results, err := docs.Crawl(ctx, urls, sourceType)
		if err != nil {
			return nil, taskmanager.Retryable(err)
		}
		return results, nil
	})
}

// registerTools binds the SSE tool manifest §4.12 names to the components
// backing each one. Every tool registered here runs synchronously within
// the dispatcher; none submits a TaskManager task. task-status and
// task-cancel act on tasks submitted through the HTTP routes.
func registerTools(sseManager *sse.Manager, kb *knowledgebase.KnowledgeBase, adrs *adrmanager.Manager, tasks *taskmanager.Manager) {
	sseManager.RegisterTool(sse.Tool{
		Name:     "vector-search",
		Requires: "knowledgebase",
		Handle: func(ctx context.Context, sess *sse.Session, args map[string]interface{}) (interface{}, error) {
			query, _ := args["query"].(string)
			return kb.Search(ctx, query, 5, nil)
		},
	})

	sseManager.RegisterTool(sse.Tool{
		Name:     "knowledge-search",
		Requires: "knowledgebase",
		Handle: func(ctx context.Context, sess *sse.Session, args map[string]interface{}) (interface{}, error) {
			query, _ := args["query"].(string)
			var filter *knowledgebase.Filter
			if kind, ok := args["kind"].(string); ok && kind != "" {
				filter = &knowledgebase.Filter{KindIn: []knowledgebase.Kind{knowledgebase.Kind(kind)}}
			}
			return kb.Search(ctx, query, 5, filter)
		},
	})

	sseManager.RegisterTool(sse.Tool{
		Name:     "adr-list",
		Requires: "adrmanager",
		Handle: func(ctx context.Context, sess *sse.Session, args map[string]interface{}) (interface{}, error) {
			return adrs.List(), nil
		},
	})

	sseManager.RegisterTool(sse.Tool{
		Name:     "adr-get",
		Requires: "adrmanager",
		Handle: func(ctx context.Context, sess *sse.Session, args map[string]interface{}) (interface{}, error) {
			id, _ := args["id"].(string)
			return adrs.Get(id)
		},
	})

	sseManager.RegisterTool(sse.Tool{
		Name:     "task-status",
		Requires: "taskmanager",
		Handle: func(ctx context.Context, sess *sse.Session, args map[string]interface{}) (interface{}, error) {
			id, _ := args["id"].(string)
			task, ok := tasks.Get(id)
			if !ok {
				return nil, codeerr.New(codeerr.NotFound, fmt.Sprintf("task %q not found", id))
			}
			return task, nil
		},
	})

	sseManager.RegisterTool(sse.Tool{
		Name:     "task-cancel",
		Requires: "taskmanager",
		Handle: func(ctx context.Context, sess *sse.Session, args map[string]interface{}) (interface{}, error) {
			id, _ := args["id"].(string)
			if err := tasks.Cancel(id); err != nil {
				return nil, err
			}
			return map[string]string{"id": id, "status": "cancel_requested"}, nil
		},
	})
}
