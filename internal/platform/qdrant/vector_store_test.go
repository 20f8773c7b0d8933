package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/platform/vector"
)

func TestStoreUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/semops/points" {
			t.Fatalf("path: want=%q got=%q", "/collections/semops/points", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	meta := map[string]any{"kind": "pattern"}
	err := s.Upsert(context.Background(), vector.NamespacePatterns, []vector.Vector{
		{ID: "pat-1", Values: []float32{1, 2, 3}, Metadata: meta},
		{ID: "pat-2", Values: []float32{4, 5, 6}, Metadata: map[string]any{"kind": "pattern"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	pointsRaw, ok := captured["points"].([]any)
	if !ok {
		t.Fatalf("points type: got=%T", captured["points"])
	}
	if len(pointsRaw) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(pointsRaw))
	}

	first, ok := pointsRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("point[0] type: got=%T", pointsRaw[0])
	}
	if first["id"] != s.pointID("so:patterns", "pat-1") {
		t.Fatalf("point id mismatch: got=%v", first["id"])
	}
	payload, ok := first["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload type: got=%T", first["payload"])
	}
	if payload[payloadNamespaceKey] != "so:patterns" {
		t.Fatalf("payload namespace: want=%q got=%v", "so:patterns", payload[payloadNamespaceKey])
	}
	if payload[payloadVectorIDKey] != "pat-1" {
		t.Fatalf("payload vector id: want=%q got=%v", "pat-1", payload[payloadVectorIDKey])
	}

	if _, exists := meta[payloadNamespaceKey]; exists {
		t.Fatalf("input metadata mutated: namespace key should not exist")
	}
	if _, exists := meta[payloadVectorIDKey]; exists {
		t.Fatalf("input metadata mutated: vector id key should not exist")
	}
}

func TestStoreUpsertRejectsDimensionMismatch(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})

	err := s.Upsert(context.Background(), vector.NamespacePatterns, []vector.Vector{
		{ID: "pat-1", Values: []float32{1, 2}},
	})
	if err == nil {
		t.Fatalf("Upsert: expected error, got nil")
	}
	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if oe.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, oe.Code)
	}
}

func TestStoreQueryMatchesFilterAndScoreNormalization(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method: want=%s got=%s", http.MethodPost, r.Method)
		}
		if r.URL.Path != "/collections/semops/points/search" {
			t.Fatalf("path: want=%q got=%q", "/collections/semops/points/search", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{
				"id":    "ignored-b",
				"score": 0.90,
				"payload": map[string]any{
					payloadVectorIDKey: "pat-b",
				},
			},
			{
				"id":    "ignored-a",
				"score": 0.10,
				"payload": map[string]any{
					payloadVectorIDKey: "pat-a",
				},
			},
		}), nil
	})
	s.distance = "euclid"

	matches, err := s.QueryMatches(context.Background(), vector.NamespacePatterns, []float32{1, 2, 3}, 2, map[string]any{
		"lifecycle_stage": []string{"active", "stable"},
		"pattern_type":    "capability",
	})
	if err != nil {
		t.Fatalf("QueryMatches: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches length: want=2 got=%d", len(matches))
	}
	if matches[0].ID != "pat-a" || matches[1].ID != "pat-b" {
		t.Fatalf("match ordering mismatch: got=%v", []string{matches[0].ID, matches[1].ID})
	}
	if !(matches[0].Score > matches[1].Score) {
		t.Fatalf("expected normalized descending scores, got=%v", []float64{matches[0].Score, matches[1].Score})
	}

	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter type: got=%T", captured["filter"])
	}
	must, ok := filter["must"].([]any)
	if !ok {
		t.Fatalf("must type: got=%T", filter["must"])
	}
	nsCond := findConditionByKey(must, payloadNamespaceKey)
	if nsCond == nil {
		t.Fatalf("missing namespace condition in filter")
	}
	nsMatch, ok := nsCond["match"].(map[string]any)
	if !ok || nsMatch["value"] != "so:patterns" {
		t.Fatalf("namespace match: got=%v", nsCond["match"])
	}

	stageCond := findConditionByKey(must, "lifecycle_stage")
	if stageCond == nil {
		t.Fatalf("missing lifecycle_stage condition")
	}
	stageMatch, ok := stageCond["match"].(map[string]any)
	if !ok {
		t.Fatalf("lifecycle_stage match type: got=%T", stageCond["match"])
	}
	anyVals, ok := stageMatch["any"].([]any)
	if !ok {
		t.Fatalf("lifecycle_stage any type: got=%T", stageMatch["any"])
	}
	if len(anyVals) != 2 {
		t.Fatalf("lifecycle_stage any length: want=2 got=%d", len(anyVals))
	}

	typeCond := findConditionByKey(must, "pattern_type")
	if typeCond == nil {
		t.Fatalf("missing pattern_type condition")
	}
	typeMatch, ok := typeCond["match"].(map[string]any)
	if !ok || typeMatch["value"] != "capability" {
		t.Fatalf("pattern_type match: got=%v", typeCond["match"])
	}
}

func TestStoreQueryMatchesUnsupportedFilterOperator(t *testing.T) {
	s := &store{
		cfg:      Config{Collection: "semops", VectorDim: 3},
		baseURL:  "http://qdrant.local",
		nsPrefix: "so",
		http:     &http.Client{},
		log:      newTestLogger(t),
	}

	_, err := s.QueryMatches(context.Background(), vector.NamespacePatterns, []float32{1, 2, 3}, 3, map[string]any{
		"$or": []any{},
	})
	if err == nil {
		t.Fatalf("QueryMatches: expected error, got nil")
	}
	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if oe.Code != OperationErrorUnsupportedFilter {
		t.Fatalf("error code: want=%q got=%q", OperationErrorUnsupportedFilter, oe.Code)
	}
}

func TestStoreDeleteIDsDedupesAndNamespacesPointIDs(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method: want=%s got=%s", http.MethodPost, r.Method)
		}
		if r.URL.Path != "/collections/semops/points/delete" {
			t.Fatalf("path: want=%q got=%q", "/collections/semops/points/delete", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := s.DeleteIDs(context.Background(), vector.NamespacePatterns, []string{"pat-1", "pat-1", " ", "pat-2"})
	if err != nil {
		t.Fatalf("DeleteIDs: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok {
		t.Fatalf("points type: got=%T", captured["points"])
	}
	if len(points) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(points))
	}

	got := map[string]struct{}{}
	for _, p := range points {
		id, ok := p.(string)
		if !ok {
			t.Fatalf("point id type: got=%T", p)
		}
		got[id] = struct{}{}
	}
	wantA := s.pointID("so:patterns", "pat-1")
	wantB := s.pointID("so:patterns", "pat-2")
	if _, ok := got[wantA]; !ok {
		t.Fatalf("missing point id: %s", wantA)
	}
	if _, ok := got[wantB]; !ok {
		t.Fatalf("missing point id: %s", wantB)
	}
}

func TestStoreSetPayloadRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method: want=%s got=%s", http.MethodPost, r.Method)
		}
		if r.URL.Path != "/collections/semops/points/payload" {
			t.Fatalf("path: want=%q got=%q", "/collections/semops/points/payload", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := s.SetPayload(context.Background(), vector.NamespacePatterns, "pat-1", map[string]any{
		"lifecycle_stage":   "active",
		payloadNamespaceKey: "spoofed",
	})
	if err != nil {
		t.Fatalf("SetPayload: %v", err)
	}

	payload, ok := captured["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload type: got=%T", captured["payload"])
	}
	if payload["lifecycle_stage"] != "active" {
		t.Fatalf("lifecycle_stage: want=%q got=%v", "active", payload["lifecycle_stage"])
	}
	if _, exists := payload[payloadNamespaceKey]; exists {
		t.Fatalf("identity key must not be overwritable")
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("points: want one id, got=%v", captured["points"])
	}
	if points[0] != s.pointID("so:patterns", "pat-1") {
		t.Fatalf("point id mismatch: got=%v", points[0])
	}
}

func TestStoreSetPayloadRequiresVectorID(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})

	err := s.SetPayload(context.Background(), vector.NamespacePatterns, " ", map[string]any{"lifecycle_stage": "active"})
	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if oe.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, oe.Code)
	}
}

func TestClassifyHTTPCallErrorTimeout(t *testing.T) {
	err := classifyHTTPCallError("query", "timeout", context.DeadlineExceeded)
	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if oe.Code != OperationErrorTimeout {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTimeout, oe.Code)
	}
}

func TestClassifyHTTPCallErrorTransport(t *testing.T) {
	err := classifyHTTPCallError("query", "transport", fmt.Errorf("boom"))
	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if oe.Code != OperationErrorTransportFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTransportFailed, oe.Code)
	}
}

func findConditionByKey(conds []any, key string) map[string]any {
	for _, c := range conds {
		cond, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if cond["key"] == key {
			return cond
		}
	}
	return nil
}

func newTestStore(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *store {
	t.Helper()
	client := &http.Client{
		Transport: roundTripFunc(roundTrip),
	}
	return &store{
		log:      newTestLogger(t),
		cfg:      Config{Collection: "semops", VectorDim: 3},
		baseURL:  "http://qdrant.local",
		nsPrefix: "so",
		http:     client,
		distance: "cosine",
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	payload := map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
