package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vaultinsights/internal/domain"
)

// CommentTimeLayout is the vault's updated_at format, e.g. "2024-03-01 09:30:00 +0100".
const CommentTimeLayout = "2006-01-02 15:04:05 -0700"

// ErrMalformedDocument is returned when a successful response is not JSON.
var ErrMalformedDocument = errors.New("malformed project document")

type projectDocument struct {
	Data struct {
		ID         json.RawMessage `json:"id"`
		Attributes struct {
			Title    json.RawMessage `json:"title"`
			Comments json.RawMessage `json:"roadmap-comments"`
		} `json:"attributes"`
	} `json:"data"`
}

type roadmapComment struct {
	ID        json.RawMessage `json:"id"`
	UpdatedAt json.RawMessage `json:"updated_at"`
}

// Parse turns one fetch outcome into a ProjectRecord. Missing fields degrade
// to a partial record; only a body that is not JSON is an error.
func Parse(outcome domain.FetchOutcome, vaultURL string) (domain.ProjectRecord, error) {
	if outcome.IsFailed() {
		return domain.UnknownProject(), nil
	}
	var doc projectDocument
	if err := json.Unmarshal([]byte(outcome.Body), &doc); err != nil {
		// Valid JSON of the wrong shape still degrades to a partial record.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return domain.ProjectRecord{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
	}
	rec := domain.ProjectRecord{Name: projectTitle(doc)}
	comment, ok := lastComment(doc.Data.Attributes.Comments)
	if !ok {
		return rec, nil
	}
	updatedAt, ok := parseCommentTime(comment.UpdatedAt)
	if !ok {
		// A comment without a readable timestamp counts as no comment, so
		// UpdatedAt and CommentURL stay paired.
		return rec, nil
	}
	link := CommentURL(vaultURL, rawID(doc.Data.ID), rawID(comment.ID))
	rec.UpdatedAt = &updatedAt
	rec.CommentURL = &link
	return rec, nil
}

func projectTitle(doc projectDocument) string {
	var title string
	if err := json.Unmarshal(doc.Data.Attributes.Title, &title); err != nil {
		return ""
	}
	return title
}

// lastComment returns the final element of the comments array; the vault
// lists comments oldest first.
func lastComment(raw json.RawMessage) (roadmapComment, bool) {
	var items []json.RawMessage
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &items) != nil || len(items) == 0 {
		return roadmapComment{}, false
	}
	var c roadmapComment
	if err := json.Unmarshal(items[len(items)-1], &c); err != nil {
		return roadmapComment{}, false
	}
	return c, true
}

func parseCommentTime(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(CommentTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// rawID renders a JSON id that may be a string or a number without quotes.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}

// CommentURL builds the web UI deep link to a status update.
func CommentURL(vaultURL, projectID, commentID string) string {
	return fmt.Sprintf("%s/projects/%s#status-update-%s", strings.TrimRight(vaultURL, "/"), projectID, commentID)
}
