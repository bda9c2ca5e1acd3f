// Package service contains the business logic layer.
//
// This file implements the wordbook: saved vocabulary words gated by the
// cumulative vocab quota channel.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/repository"
	"github.com/google/uuid"
)

// Wordbook paging bounds.
const (
	defaultWordPageSize = 20
	maxWordPageSize     = 100
)

// =============================================================================
// Interface Definition
// =============================================================================

// WordbookService manages a user's saved vocabulary.
type WordbookService interface {
	// AddWord saves a word after passing the vocab quota gate. Duplicate
	// words conflict and do not consume quota.
	AddWord(ctx context.Context, arg AddWordParams) (domain.SavedWord, error)

	// ListWords returns a page of the user's wordbook, newest first.
	ListWords(ctx context.Context, userID int64, limit, offset int32) ([]domain.SavedWord, error)

	// CountWords returns the size of the user's wordbook.
	CountWords(ctx context.Context, userID int64) (int64, error)

	// RemoveWord deletes a saved word. The cumulative vocab quota is not
	// refunded: counters never decrement.
	RemoveWord(ctx context.Context, userID int64, hanzi string) error
}

// AddWordParams describes one wordbook entry to save.
type AddWordParams struct {
	UserID      int64
	Hanzi       string
	Pinyin      string
	Translation string
}

// WordbookStore is the persistence surface the wordbook needs. Implemented
// by *repository.Store.
type WordbookStore interface {
	InsertSavedWord(ctx context.Context, arg repository.InsertSavedWordParams) error
	ListSavedWords(ctx context.Context, arg repository.ListSavedWordsParams) ([]domain.SavedWord, error)
	CountSavedWords(ctx context.Context, userID int64) (int64, error)
	DeleteSavedWord(ctx context.Context, arg repository.DeleteSavedWordParams) (bool, error)
}

// =============================================================================
// Implementation
// =============================================================================

type wordbookService struct {
	store  WordbookStore
	quota  QuotaService
	logger *slog.Logger
}

// NewWordbookService creates a new WordbookService.
func NewWordbookService(store WordbookStore, quota QuotaService, logger *slog.Logger) WordbookService {
	return &wordbookService{
		store:  store,
		quota:  quota,
		logger: logger,
	}
}

// AddWord saves a word after passing the vocab quota gate.
func (s *wordbookService) AddWord(ctx context.Context, arg AddWordParams) (domain.SavedWord, error) {
	const op = "wordbook.add_word"

	hanzi := strings.TrimSpace(arg.Hanzi)
	if hanzi == "" {
		return domain.SavedWord{}, domain.Invalid(op, "hanzi is required")
	}

	decision, err := s.quota.CheckAllowed(ctx, arg.UserID, domain.ChannelVocab)
	if err != nil {
		return domain.SavedWord{}, err
	}
	if !decision.Allowed {
		return domain.SavedWord{}, domain.QuotaExceeded(op, domain.ChannelVocab, decision.Used, decision.Limit)
	}

	word := domain.SavedWord{
		ID:          uuid.New(),
		UserID:      arg.UserID,
		Hanzi:       hanzi,
		Pinyin:      strings.TrimSpace(arg.Pinyin),
		Translation: strings.TrimSpace(arg.Translation),
	}

	err = s.store.InsertSavedWord(ctx, repository.InsertSavedWordParams{
		ID:          word.ID,
		UserID:      word.UserID,
		Hanzi:       word.Hanzi,
		Pinyin:      word.Pinyin,
		Translation: word.Translation,
	})
	if err != nil {
		// A duplicate stops here, before the counter moves: re-saving a
		// word never burns quota.
		if repository.IsDuplicateWordError(err) {
			return domain.SavedWord{}, domain.Conflict(op, "word already saved")
		}
		return domain.SavedWord{}, domain.Internal(err, op, "failed to save word")
	}

	// The word is saved even if the counter write fails; losing one
	// increment is better than refusing a saved word back to the user.
	if err := s.quota.RecordUsage(ctx, arg.UserID, domain.ChannelVocab); err != nil {
		s.logger.Warn("vocab usage not recorded",
			"user_id", arg.UserID,
			"error", err,
		)
	}

	return word, nil
}

// ListWords returns a page of the user's wordbook.
func (s *wordbookService) ListWords(ctx context.Context, userID int64, limit, offset int32) ([]domain.SavedWord, error) {
	const op = "wordbook.list_words"

	if limit <= 0 {
		limit = defaultWordPageSize
	}
	if limit > maxWordPageSize {
		limit = maxWordPageSize
	}
	if offset < 0 {
		offset = 0
	}

	words, err := s.store.ListSavedWords(ctx, repository.ListSavedWordsParams{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list words")
	}
	return words, nil
}

// CountWords returns the size of the user's wordbook.
func (s *wordbookService) CountWords(ctx context.Context, userID int64) (int64, error) {
	const op = "wordbook.count_words"

	count, err := s.store.CountSavedWords(ctx, userID)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to count words")
	}
	return count, nil
}

// RemoveWord deletes a saved word.
func (s *wordbookService) RemoveWord(ctx context.Context, userID int64, hanzi string) error {
	const op = "wordbook.remove_word"

	hanzi = strings.TrimSpace(hanzi)
	if hanzi == "" {
		return domain.Invalid(op, "hanzi is required")
	}

	deleted, err := s.store.DeleteSavedWord(ctx, repository.DeleteSavedWordParams{
		UserID: userID,
		Hanzi:  hanzi,
	})
	if err != nil {
		return domain.Internal(err, op, "failed to remove word")
	}
	if !deleted {
		return domain.Errorf(domain.ENOTFOUND, op, "word %q not saved", hanzi)
	}
	return nil
}
