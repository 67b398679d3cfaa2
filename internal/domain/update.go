package domain

import "strings"

type serverTimestamp struct{}

// ServerTimestamp used as an Update value is replaced by the store's clock.
var ServerTimestamp = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp placeholder.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Op is a condition operator.
type Op string

const (
	OpEquals    Op = "eq"
	OpNotEquals Op = "ne"
	OpMissing   Op = "missing"
	OpPresent   Op = "present"
)

// Condition is a precondition evaluated atomically with an Update.
type Condition struct {
	Path  string
	Op    Op
	Value any
}

func Equals(path string, v any) Condition    { return Condition{Path: path, Op: OpEquals, Value: v} }
func NotEquals(path string, v any) Condition { return Condition{Path: path, Op: OpNotEquals, Value: v} }
func Missing(path string) Condition          { return Condition{Path: path, Op: OpMissing} }
func Present(path string) Condition          { return Condition{Path: path, Op: OpPresent} }

// Update is a single atomic multi-field write. Set keys are dotted paths
// relative to the game document.
type Update struct {
	Set  map[string]any
	When []Condition
}

// NewUpdate returns an Update that always stamps updatedAt.
func NewUpdate() Update {
	return Update{Set: map[string]any{FieldUpdatedAt: ServerTimestamp}}
}

// With adds a field assignment.
func (u Update) With(path string, v any) Update {
	u.Set[path] = v
	return u
}

// Guard adds preconditions.
func (u Update) Guard(conds ...Condition) Update {
	u.When = append(u.When, conds...)
	return u
}

// Top-level document fields.
const (
	FieldState        = "state"
	FieldCurrentRound = "currentRound"
	FieldUpdatedAt    = "updatedAt"
)

// Path joins dotted path segments.
func Path(parts ...string) string {
	return strings.Join(parts, ".")
}

func PlayerPath(playerID string) string { return Path("players", playerID) }

func PlayerField(playerID, field string) string { return Path("players", playerID, field) }

func PlayerRoundScorePath(playerID string, round int) string {
	return Path("players", playerID, "roundScores", RoundKey(round))
}

func RoundPath(round int) string { return Path("rounds", RoundKey(round)) }

func RoundField(round int, field string) string { return Path("rounds", RoundKey(round), field) }

func SubmissionPath(round int, playerID string) string {
	return Path("rounds", RoundKey(round), "submissions", playerID)
}

func SubmissionField(round int, playerID, field string) string {
	return Path("rounds", RoundKey(round), "submissions", playerID, field)
}

// ValidKey reports whether s can be used as a path segment.
func ValidKey(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".$") && len(s) <= 128
}
