package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lherron/epicsync/internal/domain"
)

// Update is one UpdateEntity call recorded by Memory.
type Update struct {
	Key    string
	Fields map[string]any
}

// Memory is an in-process Client backed by a map of records. Updates are
// merged into the stored record field by field, the way the tracker applies
// them. It backs offline runs and tests.
type Memory struct {
	mu      sync.Mutex
	project string
	records map[string]Record
	next    int

	updates []Update
	created []string
	failing map[string]error
}

var _ Client = (*Memory)(nil)

// NewMemory creates an empty Memory. New keys are allocated in project.
func NewMemory(project string, records ...Record) *Memory {
	m := &Memory{
		project: project,
		records: make(map[string]Record),
		failing: make(map[string]error),
	}
	for _, r := range records {
		m.Put(r)
	}
	return m
}

// Put stores or replaces a record by its "key".
func (m *Memory) Put(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lookupString(r, "key")
	m.records[key] = r
}

// Delete removes a record, simulating a remote deletion.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
}

// FailUpdates makes every later UpdateEntity on key fail with err.
// A nil err clears the failure.
func (m *Memory) FailUpdates(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, key)
		return
	}
	m.failing[key] = err
}

// Updates returns every recorded update in call order.
func (m *Memory) Updates() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Update(nil), m.updates...)
}

// Created returns the keys allocated by CreateEntity in call order.
func (m *Memory) Created() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.created...)
}

func (m *Memory) FetchEntity(_ context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) FetchChildren(_ context.Context, parentKey string) ([]Record, error) {
	return m.filter(func(r Record) bool {
		return lookupString(r, "fields", "parent", "key") == parentKey
	}), nil
}

func (m *Memory) FetchByComponentAndType(_ context.Context, component string, t domain.IssueType) ([]Record, error) {
	return m.filter(func(r Record) bool {
		if lookupString(r, "fields", "issuetype", "name") != t.String() {
			return false
		}
		comps, _ := lookup(r, "fields", "components")
		list, _ := comps.([]any)
		for _, c := range list {
			if obj, ok := c.(map[string]any); ok && obj["name"] == component {
				return true
			}
		}
		return false
	}), nil
}

func (m *Memory) filter(match func(Record) bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.records))
	for k, r := range m.records {
		if match(r) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.records[k])
	}
	return out
}

func (m *Memory) UpdateEntity(_ context.Context, key string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates = append(m.updates, Update{Key: key, Fields: fields})
	if err, ok := m.failing[key]; ok {
		return &domain.RemoteWriteError{Key: key, StatusCode: 400, Body: err.Error(), Err: err}
	}
	r, ok := m.records[key]
	if !ok {
		return &domain.RemoteWriteError{Key: key, StatusCode: 404, Body: "Issue does not exist"}
	}

	merged := make(map[string]any)
	if existing, ok := r["fields"].(map[string]any); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	next := make(Record, len(r))
	for k, v := range r {
		next[k] = v
	}
	next["fields"] = merged
	m.records[key] = next
	return nil
}

func (m *Memory) CreateEntity(_ context.Context, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	project := m.project
	if p, ok := lookup(Record{"fields": fields}, "fields", "project", "key"); ok {
		if s, ok := p.(string); ok && s != "" {
			project = s
		}
	}
	if project == "" {
		return "", &domain.RemoteWriteError{StatusCode: 400, Body: "project is required"}
	}

	for {
		m.next++
		key := fmt.Sprintf("%s-%d", project, m.next)
		if _, taken := m.records[key]; taken {
			continue
		}
		m.records[key] = Record{"key": key, "fields": fields}
		m.created = append(m.created, key)
		return key, nil
	}
}
