package cache

import "fmt"

// Key semantics:
// - rosterKey(canvasID): room roster (ZSet<userId, expireAtUnix>, score is a
//   logical TTL; members whose score passes are pruned lazily)
// - namesKey(canvasID):  userId -> username mapping for the roster (Hash)
// - cursorKey(canvasID, userID): last awareness payload of one user (String)

const (
	keyRosterFmt = "presence:canvas:{%s}"
	keyNamesFmt  = "presence:canvas:names:{%s}"
	keyCursorFmt = "presence:cursor:%s:%d"
)

func rosterKey(canvasID string) string { return fmt.Sprintf(keyRosterFmt, canvasID) }
func namesKey(canvasID string) string  { return fmt.Sprintf(keyNamesFmt, canvasID) }
func cursorKey(canvasID string, userID uint64) string {
	return fmt.Sprintf(keyCursorFmt, canvasID, userID)
}
