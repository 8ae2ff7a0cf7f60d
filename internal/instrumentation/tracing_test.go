package instrumentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpanAttributeBuilder(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithTool("notion_save_note").
		WithUserHash("user:abc").
		WithWorkspace("ws-1").
		WithCategory("Science").
		WithNode(NodeKindCategory, "page-1").
		Build()

	got := make(map[string]any)
	for _, attr := range attrs {
		got[string(attr.Key)] = attr.Value.AsInterface()
	}

	assert.Len(t, attrs, 6)
	assert.Equal(t, "notion_save_note", got[SpanAttrTool])
	assert.Equal(t, "user:abc", got[SpanAttrUserHash])
	assert.Equal(t, "ws-1", got[SpanAttrWorkspace])
	assert.Equal(t, "Science", got[SpanAttrCategory])
	assert.Equal(t, NodeKindCategory, got[SpanAttrNodeKind])
	assert.Equal(t, "page-1", got[SpanAttrNodeID])
}

func TestSpanAttributeBuilder_SkipsEmpty(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithUserHash("").
		WithWorkspace("").
		WithCategory("").
		WithNode("", "").
		Build()
	assert.Empty(t, attrs)
}

func TestStartSpans(t *testing.T) {
	ctx := context.Background()

	_, span := StartSpan(ctx, "publish")
	SetSpanSuccess(span)
	span.End()

	_, span = StartToolSpan(ctx, "notion_list_categories")
	AddSpanEvent(span, "listed")
	span.End()

	_, span = StartRemoteSpan(ctx, ServiceNotion, OperationCreatePage)
	SetSpanError(span, errors.New("boom"))
	SetSpanError(span, nil)
	span.End()
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetSpanID(context.Background()))
}
