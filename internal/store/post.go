package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tinyblog/blog/types"
)

// PostRepository handles persistence for posts.
type PostRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) *PostRepository {
	return &PostRepository{db: db}
}

// List returns every post, newest first. Posts sharing a timestamp are
// ordered by id, so later inserts come first.
func (r *PostRepository) List(ctx context.Context) ([]types.Post, error) {
	const query = `
		SELECT p.id, p.content, p.created_at, p.account_id, a.username AS author
		FROM posts p
		JOIN accounts a ON a.id = p.account_id
		ORDER BY p.created_at DESC, p.id DESC`
	posts := make([]types.Post, 0)
	if err := r.db.SelectContext(ctx, &posts, query); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// Create stores a post with a server-assigned timestamp. An unknown owner
// yields ErrNotFound.
func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	post.CreatedAt = time.Now().UTC()

	query := r.db.Rebind(`
		INSERT INTO posts (content, created_at, account_id)
		VALUES (?, ?, ?)
		RETURNING id`)
	if err := r.db.QueryRowxContext(
		ctx,
		query,
		post.Content,
		post.CreatedAt,
		post.AccountID,
	).Scan(&post.ID); err != nil {
		if isForeignKeyViolation(err) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}
