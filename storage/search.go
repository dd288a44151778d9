package storage

import (
	"context"

	"github.com/sahilm/fuzzy"

	"chatmcp/model"
)

// ChatMatch is one fuzzy search hit over chat titles.
type ChatMatch struct {
	Chat           model.Chat
	Score          int
	MatchedIndexes []int
}

type chatTitles []model.Chat

func (c chatTitles) String(i int) string { return c[i].Title }
func (c chatTitles) Len() int            { return len(c) }

// SearchChats fuzzy-matches query against chat titles, best match first.
func (db *DB) SearchChats(ctx context.Context, query string) ([]ChatMatch, error) {
	if query == "" {
		return []ChatMatch{}, nil
	}

	chats, err := db.ListChats(ctx)
	if err != nil {
		return nil, err
	}

	found := fuzzy.FindFrom(query, chatTitles(chats))
	matches := make([]ChatMatch, 0, len(found))
	for _, m := range found {
		matches = append(matches, ChatMatch{
			Chat:           chats[m.Index],
			Score:          m.Score,
			MatchedIndexes: m.MatchedIndexes,
		})
	}
	return matches, nil
}
