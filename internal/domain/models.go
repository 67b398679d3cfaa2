package domain

import (
	"strconv"
	"time"
)

// State is the lifecycle position of a game.
type State string

const (
	StateWaiting   State = "waiting"
	StatePlaying   State = "playing"
	StateResults   State = "results"
	StateCompleted State = "completed"
)

// CloseReason records which trigger closed a round.
type CloseReason string

const (
	CloseAllSubmitted CloseReason = "all_submitted"
	CloseTimer        CloseReason = "timer"
	CloseAdmin        CloseReason = "admin"
	CloseForceEnd     CloseReason = "force_end"
)

// Identity is the authenticated caller as issued by the auth layer.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Game is the root document. Players and rounds are embedded and keyed by
// player identity and round number respectively.
type Game struct {
	Code          string            `json:"code" bson:"code"`
	HostID        string            `json:"hostId" bson:"hostId"`
	BankID        string            `json:"bankId" bson:"bankId"`
	State         State             `json:"state" bson:"state"`
	CurrentRound  int               `json:"currentRound" bson:"currentRound"`
	TotalRounds   int               `json:"totalRounds" bson:"totalRounds"`
	RoundDuration time.Duration     `json:"roundDuration" bson:"roundDuration"`
	Players       map[string]Player `json:"players" bson:"players"`
	Rounds        map[string]Round  `json:"rounds" bson:"rounds"`
	CreatedAt     time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt" bson:"updatedAt"`
}

// Round returns the round with number n.
func (g Game) Round(n int) (Round, bool) {
	r, ok := g.Rounds[RoundKey(n)]
	return r, ok
}

// Competitors returns the active non-admin players, the set that counts for
// round completion and rankings.
func (g Game) Competitors() []Player {
	out := make([]Player, 0, len(g.Players))
	for _, p := range g.Players {
		if p.IsActive && !p.IsAdmin {
			out = append(out, p)
		}
	}
	return out
}

// Player is a participant. RoundScores keeps per-round contributions keyed by
// round number so that rankings can be replayed for any past round.
type Player struct {
	ID          string             `json:"id" bson:"id"`
	Name        string             `json:"name" bson:"name"`
	IsAdmin     bool               `json:"isAdmin" bson:"isAdmin"`
	IsActive    bool               `json:"isActive" bson:"isActive"`
	JoinedAt    time.Time          `json:"joinedAt" bson:"joinedAt"`
	TotalScore  float64            `json:"totalScore" bson:"totalScore"`
	RoundScores map[string]float64 `json:"roundScores,omitempty" bson:"roundScores,omitempty"`
}

// ScoreAt returns the player's contribution for round n, 0 when none was recorded.
func (p Player) ScoreAt(n int) float64 {
	return p.RoundScores[RoundKey(n)]
}

// Round is one question/answer/evaluate cycle.
type Round struct {
	Number      int                   `json:"number" bson:"number"`
	QuestionID  int                   `json:"questionId" bson:"questionId"`
	StartTime   time.Time             `json:"startTime" bson:"startTime"`
	Duration    time.Duration         `json:"duration" bson:"duration"`
	IsPaused    bool                  `json:"isPaused" bson:"isPaused"`
	PausedAt    *time.Time            `json:"pausedAt,omitempty" bson:"pausedAt,omitempty"`
	PausedFor   time.Duration         `json:"pausedFor" bson:"pausedFor"`
	ClosedAt    *time.Time            `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
	CloseReason CloseReason           `json:"closeReason,omitempty" bson:"closeReason,omitempty"`
	Submissions map[string]Submission `json:"submissions" bson:"submissions"`
}

// Elapsed reports answer-collection time consumed as of now. Paused spans
// do not count.
func (r Round) Elapsed(now time.Time) time.Duration {
	end := now
	if r.ClosedAt != nil {
		end = *r.ClosedAt
	}
	if r.IsPaused && r.PausedAt != nil && r.PausedAt.Before(end) {
		end = *r.PausedAt
	}
	elapsed := end.Sub(r.StartTime) - r.PausedFor
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Remaining reports the time left in the collection window, never negative.
func (r Round) Remaining(now time.Time) time.Duration {
	left := r.Duration - r.Elapsed(now)
	if left < 0 {
		return 0
	}
	return left
}

// Submission is one player's answer for one round.
type Submission struct {
	Answer       string          `json:"answer" bson:"answer"`
	SubmittedAt  time.Time       `json:"submittedAt" bson:"submittedAt"`
	Feedbacks    []JudgeFeedback `json:"feedbacks,omitempty" bson:"feedbacks,omitempty"`
	AverageScore *float64        `json:"averageScore,omitempty" bson:"averageScore,omitempty"`
}

// Evaluated reports whether the dispatcher has written a result.
func (s Submission) Evaluated() bool {
	return s.AverageScore != nil
}

// Score is the round contribution of the submission, 0 when evaluation never completed.
func (s Submission) Score() float64 {
	if s.AverageScore == nil {
		return 0
	}
	return *s.AverageScore
}

// JudgeFeedback is one judge's verdict on a submission.
type JudgeFeedback struct {
	JudgeName string   `json:"judgeName" bson:"judgeName"`
	JudgeRole string   `json:"judgeRole" bson:"judgeRole"`
	Score     float64  `json:"score" bson:"score"`
	Feedback  string   `json:"feedback" bson:"feedback"`
	Tags      []string `json:"tags" bson:"tags"`
	Fallback  bool     `json:"fallback,omitempty" bson:"fallback,omitempty"`
}

// EvaluationResult is the panel output for one submission, feedbacks in panel order.
type EvaluationResult struct {
	Feedbacks    []JudgeFeedback `json:"feedbacks"`
	AverageScore float64         `json:"averageScore"`
}

// Question is a conceptual prompt. ReferenceAnswer is private calibration
// context for judges and is never returned to students.
type Question struct {
	ID               int      `json:"id" yaml:"id"`
	Category         string   `json:"category" yaml:"category"`
	Theme            string   `json:"theme" yaml:"theme"`
	Text             string   `json:"text" yaml:"text"`
	ReferenceAnswer  string   `json:"referenceAnswer,omitempty" yaml:"referenceAnswer"`
	ExpectedConcepts []string `json:"expectedConcepts,omitempty" yaml:"expectedConcepts"`
}

// Public strips the reference answer.
func (q Question) Public() Question {
	q.ReferenceAnswer = ""
	return q
}

// QuestionBank is an ordered set of questions; round n uses Questions[n-1].
type QuestionBank struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// QuestionFor returns the question played in round n.
func (b QuestionBank) QuestionFor(n int) (Question, error) {
	if n < 1 || n > len(b.Questions) {
		return Question{}, ErrQuestionNotFound
	}
	return b.Questions[n-1], nil
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	PlayerID     string  `json:"playerId"`
	Name         string  `json:"name"`
	Rank         int     `json:"rank"`
	RoundScore   float64 `json:"roundScore"`
	AverageScore float64 `json:"averageScore"`
	TotalScore   float64 `json:"totalScore"`
	RankChange   int     `json:"rankChange"`
	IsOnFire     bool    `json:"isOnFire"`
}

// Leaderboard captures the ordered standings after Round completed rounds.
type Leaderboard struct {
	GameCode  string             `json:"gameCode"`
	Round     int                `json:"round"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// RoundStatus is the derived timer view of a round.
type RoundStatus struct {
	Round     int           `json:"round"`
	IsPaused  bool          `json:"isPaused"`
	Closed    bool          `json:"closed"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Submitted int           `json:"submitted"`
	Expected  int           `json:"expected"`
}

// RoundScore is one line of a player's score history.
type RoundScore struct {
	Round    int     `json:"round"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
}

// Report is the per-player end-of-game summary. It is derived on demand.
type Report struct {
	PlayerID             string             `json:"playerId"`
	PlayerName           string             `json:"playerName"`
	TotalScore           float64            `json:"totalScore"`
	AverageScore         float64            `json:"averageScore"`
	RoundScores          []RoundScore       `json:"roundScores"`
	CategoryScores       map[string]float64 `json:"categoryScores"`
	StrongConcepts       []string           `json:"strongConcepts"`
	WeakConcepts         []string           `json:"weakConcepts"`
	Recommendations      []string           `json:"recommendations"`
	RecommendationSource string             `json:"recommendationSource"`
	AllFeedbacks         []JudgeFeedback    `json:"allFeedbacks"`
	GeneratedAt          time.Time          `json:"generatedAt"`
}

// RoundKey is the map key used for round-number keyed maps.
func RoundKey(n int) string {
	return strconv.Itoa(n)
}
