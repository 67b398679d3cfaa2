package domain

import "errors"

var (
	// ErrGameNotFound is returned when no document exists for a game code.
	ErrGameNotFound = errors.New("game not found")
	// ErrGameExists is returned when a game code is already taken.
	ErrGameExists = errors.New("game already exists")
	// ErrPlayerNotFound is returned when a user acts on a game they have not joined.
	ErrPlayerNotFound = errors.New("player not found in game")
	// ErrRoundNotFound indicates the round has not been opened.
	ErrRoundNotFound = errors.New("round not found")
	// ErrBankNotFound indicates the question bank could not be loaded.
	ErrBankNotFound = errors.New("question bank not found")
	// ErrQuestionNotFound indicates a round number has no question.
	ErrQuestionNotFound = errors.New("question not found")

	// ErrGameNotJoinable is returned when joining a game that left the lobby.
	ErrGameNotJoinable = errors.New("game is not accepting players")
	// ErrPlayerKicked is returned when an inactive player tries to act.
	ErrPlayerKicked = errors.New("player was removed from the game")
	// ErrNotAdmin is returned when a non-admin attempts an admin action.
	ErrNotAdmin = errors.New("only the game admin can do this")
	// ErrRoundNotOpen is returned when submitting outside an open round.
	ErrRoundNotOpen = errors.New("round is not open for submissions")
	// ErrAlreadySubmitted is returned on a second submission for the same round.
	ErrAlreadySubmitted = errors.New("answer already submitted for this round")
	// ErrEmptyAnswer is returned for blank answers.
	ErrEmptyAnswer = errors.New("answer is empty")
	// ErrInvalidTransition is returned when the game is not in the state an action needs.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotEnoughPlayers is returned when starting an empty lobby.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	// ErrInvalidIdentity is returned for identities unusable as document keys.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrAdminCannotSubmit is returned when the host tries to answer.
	ErrAdminCannotSubmit = errors.New("admin does not submit answers")

	// ErrConflict means the guarded write lost against a concurrent change.
	ErrConflict = errors.New("document changed concurrently")
	// ErrUnavailable wraps store failures; the caller may retry.
	ErrUnavailable = errors.New("game store unavailable")
)

// Kind groups errors by how callers should react.
type Kind string

const (
	KindPrecondition Kind = "precondition"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindRetryable    Kind = "retryable"
	KindInternal     Kind = "internal"
)

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAdmin), errors.Is(err, ErrPlayerKicked):
		return KindForbidden
	case errors.Is(err, ErrGameNotFound), errors.Is(err, ErrPlayerNotFound),
		errors.Is(err, ErrRoundNotFound), errors.Is(err, ErrBankNotFound),
		errors.Is(err, ErrQuestionNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnavailable):
		return KindRetryable
	case errors.Is(err, ErrGameExists), errors.Is(err, ErrGameNotJoinable),
		errors.Is(err, ErrRoundNotOpen), errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrEmptyAnswer), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNotEnoughPlayers), errors.Is(err, ErrInvalidIdentity),
		errors.Is(err, ErrAdminCannotSubmit), errors.Is(err, ErrConflict):
		return KindPrecondition
	default:
		return KindInternal
	}
}
