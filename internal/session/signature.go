package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docpen/scribe/pkg/types"
)

// signedPayload is what a signature attests. Generation metadata such as
// model and processing time is left out; the clinical text is what matters.
type signedPayload struct {
	SessionID       string `json:"sessionId"`
	UserID          string `json:"userId"`
	Version         int    `json:"version"`
	SignedAt        string `json:"signedAt"`
	Subjective      string `json:"subjective"`
	Objective       string `json:"objective"`
	Assessment      string `json:"assessment"`
	Plan            string `json:"plan"`
	AdditionalNotes string `json:"additionalNotes"`
}

// SignatureHash returns the hex SHA-256 of the signed payload for sess and
// its current version v.
func SignatureHash(sess *types.Session, v *types.NoteVersion) (string, error) {
	b, err := json.Marshal(signedPayload{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Version:         v.Version,
		SignedAt:        sess.SignedAt.UTC().Format(time.RFC3339Nano),
		Subjective:      v.Note.Subjective,
		Objective:       v.Note.Objective,
		Assessment:      v.Note.Assessment,
		Plan:            v.Note.Plan,
		AdditionalNotes: v.Note.AdditionalNotes,
	})
	if err != nil {
		return "", fmt.Errorf("session: signature payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
