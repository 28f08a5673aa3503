package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/yuya-takeyama/dedup-ingest/internal/checksum"
	"github.com/yuya-takeyama/dedup-ingest/internal/esclient"
)

// mockUploader is a mock implementation of Uploader for testing
type mockUploader struct {
	mu      sync.Mutex
	putFunc func(ctx context.Context, doc esclient.Document) (esclient.Response, error)
	docs    []esclient.Document
}

func (m *mockUploader) Put(ctx context.Context, doc esclient.Document) (esclient.Response, error) {
	m.mu.Lock()
	m.docs = append(m.docs, doc)
	m.mu.Unlock()
	if m.putFunc != nil {
		return m.putFunc(ctx, doc)
	}
	return esclient.Response{}, fmt.Errorf("Put not implemented")
}

func (m *mockUploader) calls() []esclient.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]esclient.Document(nil), m.docs...)
}

func acceptAll(context.Context, esclient.Document) (esclient.Response, error) {
	return esclient.Response{StatusCode: 201, Attempts: 1}, nil
}

// mockRecorder is a mock implementation of Recorder for testing
type mockRecorder struct {
	mu         sync.Mutex
	recordFunc func(ctx context.Context, path string, fp checksum.Fingerprint) (bool, error)
	records    map[checksum.Fingerprint]string
}

func (m *mockRecorder) Record(ctx context.Context, path string, fp checksum.Fingerprint) (bool, error) {
	if m.recordFunc != nil {
		return m.recordFunc(ctx, path, fp)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[checksum.Fingerprint]string{}
	}
	if _, ok := m.records[fp]; ok {
		return false, nil
	}
	m.records[fp] = path
	return true, nil
}
