package badgerstore

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/storylingo/storylingo-server/internal/domain"
)

// Key layout:
//
//	progress:{userID}:{storyID}             -> JSON record
//	idx:progress:story:{storyID}:{userID}   -> primary key
const (
	progressPrefix      = "progress:"
	storyIndexKeyPrefix = "idx:progress:story:"
)

// appendKey builds prefix + a + ":" + b with a single allocation.
func appendKey(prefix string, a, b int64) []byte {
	buf := make([]byte, 0, len(prefix)+41)
	buf = append(buf, prefix...)
	buf = strconv.AppendInt(buf, a, 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, b, 10)
	return buf
}

func progressKey(k domain.ProgressKey) []byte {
	return appendKey(progressPrefix, k.UserID, k.StoryID)
}

func storyIndexKey(k domain.ProgressKey) []byte {
	return appendKey(storyIndexKeyPrefix, k.StoryID, k.UserID)
}

// userPrefix ends in ':' so user 1 never matches user 12.
func userPrefix(userID int64) []byte {
	buf := make([]byte, 0, len(progressPrefix)+21)
	buf = append(buf, progressPrefix...)
	buf = strconv.AppendInt(buf, userID, 10)
	return append(buf, ':')
}

func storyIndexPrefix(storyID int64) []byte {
	buf := make([]byte, 0, len(storyIndexKeyPrefix)+21)
	buf = append(buf, storyIndexKeyPrefix...)
	buf = strconv.AppendInt(buf, storyID, 10)
	return append(buf, ':')
}

// parseProgressKey is the inverse of progressKey.
func parseProgressKey(key []byte) (domain.ProgressKey, error) {
	rest, ok := bytes.CutPrefix(key, []byte(progressPrefix))
	if !ok {
		return domain.ProgressKey{}, fmt.Errorf("not a progress key: %q", key)
	}
	user, story, ok := bytes.Cut(rest, []byte{':'})
	if !ok {
		return domain.ProgressKey{}, fmt.Errorf("malformed progress key: %q", key)
	}

	userID, err := strconv.ParseInt(string(user), 10, 64)
	if err != nil {
		return domain.ProgressKey{}, fmt.Errorf("malformed user id in key %q: %w", key, err)
	}
	storyID, err := strconv.ParseInt(string(story), 10, 64)
	if err != nil {
		return domain.ProgressKey{}, fmt.Errorf("malformed story id in key %q: %w", key, err)
	}
	return domain.ProgressKey{UserID: userID, StoryID: storyID}, nil
}
