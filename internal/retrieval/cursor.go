package retrieval

import (
	"encoding/base64"
	"encoding/json"

	apperrors "github.com/medsearch/medsearch/pkg/errors"
)

// cursor marks a position in the (score desc, docID asc) result order.
// Pagination resumes strictly after it, so results added or removed between
// pages never shift entries onto the wrong page.
type cursor struct {
	Score float64 `json:"s"`
	DocID string  `json:"d"`
}

func encodeCursor(c cursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, apperrors.Planning("malformed cursor")
	}
	if err := json.Unmarshal(data, &c); err != nil || c.DocID == "" {
		return c, apperrors.Planning("malformed cursor")
	}
	return c, nil
}

// after reports whether a result at (score, docID) sorts strictly after c.
func (c cursor) after(score float64, docID string) bool {
	if score != c.Score {
		return score < c.Score
	}
	return docID > c.DocID
}
