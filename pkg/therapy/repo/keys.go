package repo

import (
	"fmt"
	"time"

	"github.com/lumenkind/sona/pkg/kv"
)

// Key layout:
//
//	user:{userId}                                  → msgpack User
//	sess:{sessionId}                               → msgpack Session
//	idx:usess:{userId}:{startMillis}:{sessionId}   → sessionId
//	idx:useract:{anon|reg}:{activeMillis}:{userId} → userId
//
// Millisecond timestamps are zero-padded to 13 digits so lexicographic
// key order matches chronological order. The usess index supports
// chronological per-user session scans; the useract index supports
// activity queries partitioned by anonymity.

func userKey(userID string) kv.Key {
	return kv.Key{"user", userID}
}

func sessionKey(sessionID string) kv.Key {
	return kv.Key{"sess", sessionID}
}

// millis formats a timestamp as a fixed-width millisecond string.
func millis(t time.Time) string {
	return fmt.Sprintf("%013d", t.UnixMilli())
}

func userSessionIndexKey(userID string, start time.Time, sessionID string) kv.Key {
	return kv.Key{"idx", "usess", userID, millis(start), sessionID}
}

func userSessionIndexPrefix(userID string) kv.Key {
	return kv.Key{"idx", "usess", userID}
}

func anonSegment(isAnonymous bool) string {
	if isAnonymous {
		return "anon"
	}
	return "reg"
}

func userActivityIndexKey(isAnonymous bool, lastActive time.Time, userID string) kv.Key {
	return kv.Key{"idx", "useract", anonSegment(isAnonymous), millis(lastActive), userID}
}

func userActivityIndexPrefix(isAnonymous bool) kv.Key {
	return kv.Key{"idx", "useract", anonSegment(isAnonymous)}
}
