// Package domain contains core business types and interfaces.
//
// This file defines the saved vocabulary word type. Free-tier users are
// capped at a cumulative number of saved words (the vocab quota channel).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SavedWord is one vocabulary entry in a user's personal wordbook.
// A user cannot save the same hanzi twice.
type SavedWord struct {
	ID          uuid.UUID
	UserID      int64
	Hanzi       string
	Pinyin      string
	Translation string
	CreatedAt   time.Time
}
