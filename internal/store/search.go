package store

import (
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/duet/internal/state"
)

// SearchResult holds a message with a snippet around the first match.
type SearchResult struct {
	Message state.Message `json:"message"`
	Snippet string        `json:"snippet"`
}

const snippetRadius = 32

// SearchMessages finds cached messages whose content contains query, case
// insensitively, newest first. convID limits the search to one conversation
// when non-zero.
func (db *DB) SearchMessages(query string, convID int64, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := messageSelect + ` WHERE m.content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if convID != 0 {
		q += " AND m.conversation_id = ?"
		args = append(args, convID)
	}
	q += " ORDER BY m.created_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(msgs))
	for i, m := range msgs {
		results[i] = SearchResult{Message: m, Snippet: snippet(m.Content, query)}
	}
	return results, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first case-insensitive match with << >> and trims the
// surrounding text.
func snippet(content, query string) string {
	lower := strings.ToLower(content)
	if len(lower) != len(content) {
		return content
	}
	i := strings.Index(lower, strings.ToLower(query))
	if i < 0 {
		return content
	}
	end := i + len(query)
	start := max(i-snippetRadius, 0)
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	stop := min(end+snippetRadius, len(content))
	for stop < len(content) && !utf8.RuneStart(content[stop]) {
		stop++
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(content[start:i])
	b.WriteString("<<")
	b.WriteString(content[i:end])
	b.WriteString(">>")
	b.WriteString(content[end:stop])
	if stop < len(content) {
		b.WriteString("...")
	}
	return b.String()
}
