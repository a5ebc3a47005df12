// Package fake provides an in-memory transport.Adapter for tests.
package fake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/transport"
)

// Adapter is an in-memory transport.Adapter and transport.TaskSubmitter.
type Adapter struct {
	mu          sync.Mutex
	home        string
	sent        []SentMessage
	inbox       map[string][]transport.Message
	submitted   []string // task ids, for assertions by callers that wire a real store
	sendErr     error
	fetchErr    error
}

// SentMessage records one outbound call for assertions.
type SentMessage struct {
	ChannelID string
	Content   string
}

// New builds an Adapter with the given home channel id.
func New(homeChannelID string) *Adapter {
	return &Adapter{home: homeChannelID, inbox: make(map[string][]transport.Message)}
}

// SetSendError makes subsequent SendMessage calls fail, for transient-error
// and retry tests.
func (a *Adapter) SetSendError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendErr = err
}

// Seed adds a message to a channel's fetchable history.
func (a *Adapter) Seed(msg transport.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbox[msg.ChannelID] = append(a.inbox[msg.ChannelID], msg)
}

// SendMessage implements transport.Adapter.
func (a *Adapter) SendMessage(_ context.Context, channelID, content string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return false, a.sendErr
	}
	a.sent = append(a.sent, SentMessage{ChannelID: channelID, Content: content})
	return true, nil
}

// FetchMessages implements transport.Adapter.
func (a *Adapter) FetchMessages(_ context.Context, channelID string, limit int, before *time.Time) ([]transport.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	all := append([]transport.Message(nil), a.inbox[channelID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	var out []transport.Message
	for _, m := range all {
		if before != nil && !m.Timestamp.Before(*before) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HomeChannelID implements transport.Adapter.
func (a *Adapter) HomeChannelID() (string, bool) {
	if a.home == "" {
		return "", false
	}
	return a.home, true
}

// Sent returns every message handed to SendMessage, in order.
func (a *Adapter) Sent() []SentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SentMessage, len(a.sent))
	copy(out, a.sent)
	return out
}

// SubmitTask implements transport.TaskSubmitter by recording the task's id;
// nothing is persisted.
func (a *Adapter) SubmitTask(_ context.Context, task *models.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitted = append(a.submitted, task.ID)
	return nil
}

// Submitted returns every task id passed to SubmitTask.
func (a *Adapter) Submitted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.submitted...)
}
