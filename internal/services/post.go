package services

import (
	"context"
	"strings"

	"github.com/tinyblog/blog/internal/metrics"
	"github.com/tinyblog/blog/types"
)

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	List(ctx context.Context) ([]types.Post, error)
	Create(ctx context.Context, post types.Post) (types.Post, error)
}

// PostListener is notified after a post has been stored.
type PostListener interface {
	PostCreated(ctx context.Context, post types.Post)
}

// PostService encapsulates post use-cases.
type PostService struct {
	repo      PostRepository
	listeners []PostListener
}

func NewPostService(repo PostRepository, listeners ...PostListener) *PostService {
	return &PostService{repo: repo, listeners: listeners}
}

// List returns all posts, newest first.
func (s *PostService) List(ctx context.Context) ([]types.Post, error) {
	return s.repo.List(ctx)
}

// Create validates in and stores it as a post owned by author.
func (s *PostService) Create(ctx context.Context, in PostInput, author types.Account) (types.Post, error) {
	if author.IsAnonymous() {
		return types.Post{}, ErrAnonymousAuthor
	}

	in.Content = strings.TrimSpace(in.Content)
	if err := validateForm(in); err != nil {
		return types.Post{}, err
	}

	post, err := s.repo.Create(ctx, types.Post{
		Content:   in.Content,
		AccountID: author.ID,
	})
	if err != nil {
		return types.Post{}, err
	}
	post.Author = author.Username

	metrics.RecordPostCreated()
	for _, listener := range s.listeners {
		listener.PostCreated(ctx, post)
	}
	return post, nil
}
