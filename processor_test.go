package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

var testConfigJSON = map[string]any{
	"authorization": testCreds.AuthorizationToken,
	"s":             testCreds.SessionID,
	"t":             testCreds.Timestamp,
	"u":             testCreds.UserID,
}

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestProcessor(t *testing.T, version int, transport Transport) *Processor {
	t.Helper()
	p := NewProcessor(version, NewRequestBuilder("https://viggle.example", nil), transport, NewLogger(zaptest.NewLogger(t)))
	p.now = func() time.Time { return testNow }
	p.generator = placeholderGenerator{now: p.now}
	return p
}

func promptItems(prompts ...string) []Item {
	items := make([]Item, len(prompts))
	for i, prompt := range prompts {
		items[i] = Item{JSON: map[string]any{"prompt": prompt}}
	}
	return items
}

func TestProcessContinueOnFail(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	doc := &WorkflowDocument{
		NodeVersion:    LatestNodeVersion,
		ContinueOnFail: true,
		Parameters:     map[string]any{"textInput": "={{.prompt}}"},
		Items:          promptItems("a cat", "  ", "a dog"),
	}
	transport := &stubTransport{name: "direct"}

	records, err := newTestProcessor(t, doc.NodeVersion, transport).Process(context.Background(), NewWorkflowHost(doc))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.False(t, records[0].Failed)
	assert.Equal(t, 5, records[0].Data.(map[string]any)["input_length"])

	assert.True(t, records[1].Failed)
	assert.Equal(t, 1, records[1].ItemIndex)
	assert.Equal(t, "Text input cannot be empty", records[1].Error)
	assert.Equal(t, testNow, records[1].Timestamp)

	assert.False(t, records[2].Failed)
	assert.Equal(t, 2, records[2].ItemIndex)

	assert.Equal(t, 0, transport.Calls(), "generation is answered locally")
}

func TestProcessHaltsWithoutContinueOnFail(t *testing.T) {
	doc := &WorkflowDocument{
		NodeVersion: LatestNodeVersion,
		Parameters:  map[string]any{"textInput": "={{.prompt}}"},
		Items:       promptItems("a cat", "", "a dog"),
	}

	records, err := newTestProcessor(t, doc.NodeVersion, &stubTransport{name: "direct"}).Process(context.Background(), NewWorkflowHost(doc))

	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 1, itemErr.Index)
	assert.Equal(t, StagePending, itemErr.Stage)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "textInput", valErr.Field)

	require.Len(t, records, 1, "the third item never runs")
	assert.Equal(t, 0, records[0].ItemIndex)
}

func TestProcessListAssets(t *testing.T) {
	transport := &stubTransport{name: "direct", results: []stubResult{okResponse(`{"data":{"list":[{"id":"a1"}]}}`)}}
	doc := &WorkflowDocument{
		NodeVersion: LatestNodeVersion,
		Parameters: map[string]any{
			"operation":  OpGetImageList,
			"configJson": testConfigJSON,
			"page":       json.Number("2"),
			"pageSize":   "50",
		},
		Items: []Item{{JSON: map[string]any{}}},
	}

	records, err := newTestProcessor(t, doc.NodeVersion, transport).Process(context.Background(), NewWorkflowHost(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, map[string]any{"data": map[string]any{"list": []any{map[string]any{"id": "a1"}}}}, records[0].Data)

	req := transport.Last()
	require.NotNil(t, req)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "https://viggle.example/api/asset/list?page=2&pageSize=50", req.URL)
	assert.Equal(t, testCreds.AuthorizationToken, req.Headers.Get("authorization"))
}

func TestProcessUploadAsset(t *testing.T) {
	transport := &stubTransport{name: "direct", results: []stubResult{okResponse(`{"code":0}`)}}
	doc := &WorkflowDocument{
		NodeVersion: LatestNodeVersion,
		Parameters: map[string]any{
			"operation":          OpUploadImage,
			"configJson":         `{"authorization":"Bearer token-123","s":"sid","t":"1700000000","u":"uid"}`,
			"binaryPropertyName": "photo",
		},
		Items: []Item{{Binary: map[string]*BinaryData{
			"photo": {Data: base64.StdEncoding.EncodeToString([]byte("png bytes")), FileName: "cat.png", MimeType: "image/png"},
		}}},
	}

	records, err := newTestProcessor(t, doc.NodeVersion, transport).Process(context.Background(), NewWorkflowHost(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)

	req := transport.Last()
	require.NotNil(t, req)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/api/asset/upload", req.Path())
	assert.Contains(t, req.Headers.Get("content-type"), "multipart/form-data; boundary=----WebKitFormBoundary")
	assert.Contains(t, string(req.Body), "png bytes")
}

func TestProcessRejectsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name    string
		version int
		params  map[string]any
		wantErr any
	}{
		{
			name:    "operation not in version 1",
			version: 1,
			params:  map[string]any{"operation": OpGetImageList, "configJson": testConfigJSON},
			wantErr: &ValidationError{},
		},
		{
			name:    "page size too large",
			version: 2,
			params:  map[string]any{"operation": OpGetImageList, "configJson": testConfigJSON, "pageSize": 500},
			wantErr: &ValidationError{},
		},
		{
			name:    "page zero",
			version: 2,
			params:  map[string]any{"operation": OpGetImageList, "configJson": testConfigJSON, "page": 0},
			wantErr: &ValidationError{},
		},
		{
			name:    "fractional page",
			version: 2,
			params:  map[string]any{"operation": OpGetImageList, "configJson": testConfigJSON, "page": 1.5},
			wantErr: &ValidationError{},
		},
		{
			name:    "default configuration",
			version: 2,
			params:  map[string]any{"operation": OpGetImageList},
			wantErr: &ConfigurationError{},
		},
		{
			name:    "missing binary",
			version: 2,
			params:  map[string]any{"operation": OpUploadImage, "configJson": testConfigJSON},
			wantErr: &ValidationError{},
		},
		{
			name:    "unknown operation",
			version: 2,
			params:  map[string]any{"operation": "deleteEverything"},
			wantErr: &ValidationError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &stubTransport{name: "direct"}
			doc := &WorkflowDocument{NodeVersion: tt.version, Parameters: tt.params, Items: []Item{{JSON: map[string]any{}}}}

			_, err := newTestProcessor(t, tt.version, transport).Process(context.Background(), NewWorkflowHost(doc))
			require.Error(t, err)
			switch tt.wantErr.(type) {
			case *ValidationError:
				var valErr *ValidationError
				assert.ErrorAs(t, err, &valErr)
			case *ConfigurationError:
				var cfgErr *ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)
			}
			assert.Equal(t, 0, transport.Calls())
		})
	}
}

func listDoc() *WorkflowDocument {
	return &WorkflowDocument{
		NodeVersion: LatestNodeVersion,
		Parameters:  map[string]any{"operation": OpGetImageList, "configJson": testConfigJSON},
		Items:       []Item{{JSON: map[string]any{}}},
	}
}

func TestProcessRetries(t *testing.T) {
	unavailable := &Response{StatusCode: 503, Body: []byte("busy")}
	unauthorized := &Response{StatusCode: 401, Body: []byte(`{"message":"expired"}`)}
	resetErr := &TransportError{Transport: "direct", Err: errors.New("connection reset")}

	tests := []struct {
		name       string
		results    []stubResult
		maxRetries int
		wantCalls  int
		wantDelays []time.Duration
		wantErr    bool
	}{
		{
			name:       "recovers after transport error",
			results:    []stubResult{{err: resetErr}, okResponse(`{}`)},
			maxRetries: 2,
			wantCalls:  2,
			wantDelays: []time.Duration{100 * time.Millisecond},
		},
		{
			name:       "gives up on persistent 503",
			results:    []stubResult{{resp: unavailable, err: statusError(unavailable)}},
			maxRetries: 2,
			wantCalls:  3,
			wantDelays: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
			wantErr:    true,
		},
		{
			name:       "never retries unauthorized",
			results:    []stubResult{{resp: unauthorized, err: statusError(unauthorized)}},
			maxRetries: 3,
			wantCalls:  1,
			wantErr:    true,
		},
		{
			name:      "no retries by default",
			results:   []stubResult{{err: resetErr}},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &stubTransport{name: "direct", results: tt.results}
			p := newTestProcessor(t, LatestNodeVersion, transport).
				WithRetry(RetryPolicy{MaxRetries: tt.maxRetries, BaseDelay: 100 * time.Millisecond})

			var delays []time.Duration
			p.sleep = func(ctx context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			}

			_, err := p.Process(context.Background(), NewWorkflowHost(listDoc()))
			if tt.wantErr {
				var itemErr *ItemError
				require.ErrorAs(t, err, &itemErr)
				assert.Equal(t, StageDispatched, itemErr.Stage)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, transport.Calls())
			assert.Equal(t, tt.wantDelays, delays)
		})
	}
}

func TestProcessStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := &stubTransport{name: "direct"}
	records, err := newTestProcessor(t, LatestNodeVersion, transport).Process(ctx, NewWorkflowHost(listDoc()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
	assert.Equal(t, 0, transport.Calls())
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.backoff(0))
	assert.Equal(t, 4*time.Second, p.backoff(2))
	assert.Equal(t, 5*time.Second, p.backoff(3))
	assert.Equal(t, 5*time.Second, p.backoff(40))

	assert.Equal(t, 500*time.Millisecond, RetryPolicy{}.backoff(0))
}

func TestOutputRecordJSON(t *testing.T) {
	ok, err := json.Marshal(OutputRecord{ItemIndex: 0, Data: map[string]any{"id": "a1"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"id":"a1"}}`, string(ok))

	failed, err := json.Marshal(OutputRecord{
		ItemIndex: 3,
		Error:     "Text input cannot be empty",
		Timestamp: time.Date(2026, 1, 2, 4, 4, 5, 0, time.FixedZone("CET", 3600)),
		Failed:    true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Text input cannot be empty","itemIndex":3,"timestamp":"2026-01-02T03:04:05Z"}`, string(failed))
}

func TestItemStageString(t *testing.T) {
	assert.Equal(t, "params resolved", StageParamsResolved.String())
	assert.Equal(t, "failed, recovered", StageFailedRecovered.String())
	assert.Equal(t, "stage(42)", ItemStage(42).String())
}
