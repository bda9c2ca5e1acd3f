package repository

import (
	"context"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/google/uuid"
)

// InsertSavedWordParams adds one wordbook entry.
type InsertSavedWordParams struct {
	ID          uuid.UUID
	UserID      int64
	Hanzi       string
	Pinyin      string
	Translation string
}

// InsertSavedWord appends a word. A repeated hanzi for the same user fails
// with a unique violation on saved_words_user_id_hanzi_key.
func (q *Queries) InsertSavedWord(ctx context.Context, arg InsertSavedWordParams) error {
	const query = `
		INSERT INTO saved_words (id, user_id, hanzi, pinyin, translation)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := q.db.ExecContext(ctx, query, arg.ID, arg.UserID, arg.Hanzi, arg.Pinyin, arg.Translation)
	return err
}

// IsDuplicateWordError reports whether err came from saving the same hanzi twice.
func IsDuplicateWordError(err error) bool {
	return isUniqueViolation(err, "saved_words_user_id_hanzi_key")
}

// CountSavedWords returns the size of a user's wordbook.
func (q *Queries) CountSavedWords(ctx context.Context, userID int64) (int64, error) {
	const query = `SELECT COUNT(*) FROM saved_words WHERE user_id = $1`

	var count int64
	err := q.db.QueryRowContext(ctx, query, userID).Scan(&count)
	return count, err
}

// ListSavedWordsParams pages a user's wordbook, newest first.
type ListSavedWordsParams struct {
	UserID int64
	Limit  int32
	Offset int32
}

// ListSavedWords returns a page of the user's wordbook.
func (q *Queries) ListSavedWords(ctx context.Context, arg ListSavedWordsParams) ([]domain.SavedWord, error) {
	const query = `
		SELECT id, user_id, hanzi, pinyin, translation, created_at
		FROM saved_words
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := q.db.QueryContext(ctx, query, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var words []domain.SavedWord
	for rows.Next() {
		var w domain.SavedWord
		if err := rows.Scan(&w.ID, &w.UserID, &w.Hanzi, &w.Pinyin, &w.Translation, &w.CreatedAt); err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

// DeleteSavedWordParams removes one word from a user's wordbook.
type DeleteSavedWordParams struct {
	UserID int64
	Hanzi  string
}

// DeleteSavedWord removes the word. Returns false when it was not saved.
// The vocabulary quota is cumulative and is not refunded by deletion.
func (q *Queries) DeleteSavedWord(ctx context.Context, arg DeleteSavedWordParams) (bool, error) {
	const query = `DELETE FROM saved_words WHERE user_id = $1 AND hanzi = $2`

	res, err := q.db.ExecContext(ctx, query, arg.UserID, arg.Hanzi)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
