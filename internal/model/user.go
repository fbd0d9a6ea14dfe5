package model

import "time"

// Stat counter names, matching the stored document fields.
const (
	StatNotesUploaded  = "notesUploaded"
	StatConversations  = "conversations"
	StatQuizzesTaken   = "quizzesTaken"
	StatVoiceNotes     = "voiceNotes"
	StatStudyStreak    = "studyStreak"
	StatTotalQuestions = "totalQuestions"
	StatCorrectAnswers = "correctAnswers"
)

// Stats holds per-user usage counters.
type Stats struct {
	NotesUploaded  int `json:"notesUploaded" bson:"notesUploaded"`
	Conversations  int `json:"conversations" bson:"conversations"`
	QuizzesTaken   int `json:"quizzesTaken" bson:"quizzesTaken"`
	VoiceNotes     int `json:"voiceNotes" bson:"voiceNotes"`
	StudyStreak    int `json:"studyStreak" bson:"studyStreak"`
	TotalQuestions int `json:"totalQuestions" bson:"totalQuestions"`
	CorrectAnswers int `json:"correctAnswers" bson:"correctAnswers"`
}

// IsStatName reports whether name is a known counter.
func IsStatName(name string) bool {
	_, ok := (&Stats{}).field(name)
	return ok
}

// Add increments the named counter by n. Unknown names are ignored.
func (s *Stats) Add(name string, n int) {
	if p, ok := s.field(name); ok {
		*p += n
	}
}

func (s *Stats) field(name string) (*int, bool) {
	switch name {
	case StatNotesUploaded:
		return &s.NotesUploaded, true
	case StatConversations:
		return &s.Conversations, true
	case StatQuizzesTaken:
		return &s.QuizzesTaken, true
	case StatVoiceNotes:
		return &s.VoiceNotes, true
	case StatStudyStreak:
		return &s.StudyStreak, true
	case StatTotalQuestions:
		return &s.TotalQuestions, true
	case StatCorrectAnswers:
		return &s.CorrectAnswers, true
	}
	return nil, false
}

// User represents a verified account. ID is a 24 hex character ObjectID string
// on every storage backend.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	IsVerified   bool
	Stats        Stats
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Public returns the view of u that is safe to return to clients.
func (u *User) Public() PublicUser {
	p := PublicUser{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		IsVerified: u.IsVerified,
		Stats:      u.Stats,
		CreatedAt:  u.CreatedAt,
	}
	if !u.LastLogin.IsZero() {
		last := u.LastLogin
		p.LastLogin = &last
	}
	return p
}

// PublicUser represents user data safe for API responses (no password hash).
type PublicUser struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	IsVerified bool       `json:"isVerified"`
	Stats      Stats      `json:"stats"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
}

// SendOTPRequest is the body of POST /api/v1/auth/send-otp.
type SendOTPRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

// VerifyOTPRequest is the body of POST /api/v1/auth/verify-otp.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
	Type  string `json:"type"`
}

// LoginRequest represents a password login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned after a successful verification or login.
type AuthResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	User    PublicUser `json:"user"`
}

// SessionResponse is returned by the session check endpoint.
type SessionResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *PublicUser `json:"user"`
}

// StatsDeltaRequest increments named counters.
type StatsDeltaRequest struct {
	Delta map[string]int `json:"delta" validate:"required"`
}

// QuizResultRequest records the outcome of a taken quiz.
type QuizResultRequest struct {
	Total   int `json:"total" validate:"gte=0"`
	Correct int `json:"correct" validate:"gte=0,ltefield=Total"`
}
