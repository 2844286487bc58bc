package ocpp

import (
	"context"
	"sync"
	"time"

	coreocpp "github.com/kilianp07/evcharger/core/ocpp"
)

// MockClient is an in-memory central system. It records every request and
// answers from configurable responses. All fields are guarded by the mock's
// mutex; configure them before handing the mock to the code under test or
// through the setter methods.
type MockClient struct {
	mu sync.Mutex

	// BootResponses are returned in order; the last one repeats.
	BootResponses []coreocpp.BootNotificationResponse
	BootErr       error
	HeartbeatErr  error
	// StatusErrAt fails the StatusNotification with this 1-based index.
	StatusErrAt int
	StatusErr   error
	// AuthorizeStatus maps tags to verdicts; unknown tags are Accepted.
	AuthorizeStatus map[string]coreocpp.AuthorizationStatus
	AuthorizeErr    error

	boots        []coreocpp.BootNotificationRequest
	heartbeats   int
	authorizes   []string
	statuses     []coreocpp.StatusNotificationRequest
	disconnected bool
	changed      chan struct{}
}

// NewMockClient returns a mock accepting registration with a 30 s interval.
func NewMockClient() *MockClient {
	return &MockClient{
		BootResponses: []coreocpp.BootNotificationResponse{{Status: coreocpp.RegistrationStatusAccepted, Interval: 30}},
		changed:       make(chan struct{}),
	}
}

func (m *MockClient) notifyLocked() {
	if m.changed == nil {
		m.changed = make(chan struct{})
	}
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *MockClient) BootNotification(ctx context.Context, req coreocpp.BootNotificationRequest) (coreocpp.BootNotificationResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.boots)
	m.boots = append(m.boots, req)
	m.notifyLocked()
	if m.BootErr != nil {
		return coreocpp.BootNotificationResponse{}, m.BootErr
	}
	if len(m.BootResponses) == 0 {
		return coreocpp.BootNotificationResponse{Status: coreocpp.RegistrationStatusAccepted, Interval: 30}, nil
	}
	if idx >= len(m.BootResponses) {
		idx = len(m.BootResponses) - 1
	}
	resp := m.BootResponses[idx]
	resp.CurrentTime = time.Now().UTC()
	return resp, nil
}

func (m *MockClient) Heartbeat(ctx context.Context) (coreocpp.HeartbeatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	m.notifyLocked()
	if m.HeartbeatErr != nil {
		return coreocpp.HeartbeatResponse{}, m.HeartbeatErr
	}
	return coreocpp.HeartbeatResponse{CurrentTime: time.Now().UTC()}, nil
}

func (m *MockClient) Authorize(ctx context.Context, req coreocpp.AuthorizeRequest) (coreocpp.AuthorizeResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizes = append(m.authorizes, req.IdTag)
	m.notifyLocked()
	if m.AuthorizeErr != nil {
		return coreocpp.AuthorizeResponse{}, m.AuthorizeErr
	}
	status := coreocpp.AuthorizationStatusAccepted
	if s, ok := m.AuthorizeStatus[req.IdTag]; ok {
		status = s
	}
	return coreocpp.AuthorizeResponse{IdTagInfo: coreocpp.IdTagInfo{Status: status}}, nil
}

func (m *MockClient) StatusNotification(ctx context.Context, req coreocpp.StatusNotificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, req)
	m.notifyLocked()
	if m.StatusErr != nil && m.StatusErrAt == len(m.statuses) {
		return m.StatusErr
	}
	return nil
}

func (m *MockClient) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	m.notifyLocked()
	return nil
}

// SetHeartbeatErr changes the Heartbeat outcome.
func (m *MockClient) SetHeartbeatErr(err error) {
	m.mu.Lock()
	m.HeartbeatErr = err
	m.mu.Unlock()
}

// Boots returns the recorded BootNotification requests.
func (m *MockClient) Boots() []coreocpp.BootNotificationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]coreocpp.BootNotificationRequest(nil), m.boots...)
}

// Heartbeats returns how many Heartbeats were sent.
func (m *MockClient) Heartbeats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats
}

// Authorizes returns the tags sent for authorization.
func (m *MockClient) Authorizes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authorizes...)
}

// Statuses returns the recorded StatusNotification requests.
func (m *MockClient) Statuses() []coreocpp.StatusNotificationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]coreocpp.StatusNotificationRequest(nil), m.statuses...)
}

// Disconnected reports whether Disconnect was called.
func (m *MockClient) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

// Total returns the number of requests of every kind received so far.
func (m *MockClient) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boots) + m.heartbeats + len(m.authorizes) + len(m.statuses)
}

// WaitFor blocks until cond holds or timeout elapses and reports whether it held.
func (m *MockClient) WaitFor(cond func(*MockClient) bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		if m.changed == nil {
			m.changed = make(chan struct{})
		}
		ch := m.changed
		m.mu.Unlock()
		if cond(m) {
			return true
		}
		select {
		case <-ch:
		case <-deadline.C:
			return cond(m)
		}
	}
}

var _ coreocpp.Client = (*MockClient)(nil)
var _ coreocpp.Client = (*Client)(nil)
