// Package transport defines the transport adapter contract (spec.md §6.1):
// chat/HTTP/CLI adapters deliver stimuli as Tasks and receive outbound
// messages, but only the interface and an in-memory test fake live in this
// core (spec.md §1 Non-goals: "no transport-specific protocol handling").
// Grounded on pkg/agent/llm_client.go's interface-first boundary design
// applied to the transport surface (SPEC_FULL.md §6.1).
package transport

import (
	"context"
	"time"

	"github.com/wisebound/sentinel/pkg/models"
)

// Message is one inbound chat message (spec.md §6.1).
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	Timestamp time.Time
	IsDM      bool
}

// Adapter is the contract every transport (chat, HTTP, CLI) implements
// (spec.md §6.1).
type Adapter interface {
	// SendMessage delivers outbound content to a channel.
	SendMessage(ctx context.Context, channelID, content string) (bool, error)
	// FetchMessages retrieves up to limit messages from a channel, optionally
	// before a cursor timestamp.
	FetchMessages(ctx context.Context, channelID string, limit int, before *time.Time) ([]Message, error)
	// HomeChannelID returns the adapter's default channel, if it has one.
	HomeChannelID() (string, bool)
}

// TaskSubmitter is implemented by whatever assembles inbound messages into
// Tasks (spec.md §6.1: "The adapter is responsible for delivering inbound
// messages as Tasks via submit_task(task)").
type TaskSubmitter interface {
	SubmitTask(ctx context.Context, task *models.Task) error
}
