// Package port defines the interfaces (ports) for external collaborators.
// Following hexagonal architecture, these ports decouple the workflow and
// service layers from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
)

// Completer calls the large language completion service.
type Completer interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error)
}

// Retriever searches the legal knowledge base. merchant may be empty.
// The result is a formatted excerpt block ready to be placed in a prompt.
type Retriever interface {
	Search(ctx context.Context, query, merchant string) (string, error)
}

// TransactionsFetcher retrieves an account's normalized transactions from
// the ingestion collaborator.
type TransactionsFetcher interface {
	GetTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error)
}

// HistoryStore persists the recent messages of a conversation.
type HistoryStore interface {
	// Load returns at most limit messages, oldest first.
	Load(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	// Append adds messages at the end and trims the conversation to the store's window.
	Append(ctx context.Context, conversationID string, msgs ...domain.Message) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
