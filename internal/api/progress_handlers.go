package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/storylingo/storylingo-server/internal/domain"
	"github.com/storylingo/storylingo-server/internal/service"
)

const (
	userPath  = "/api/v1/progress/users/{userID}"
	storyPath = userPath + "/stories/{storyID}"
)

func (s *Server) registerProgressRoutes() {
	tags := []string{"Progress"}

	huma.Register(s.api, huma.Operation{
		OperationID: "listProgress",
		Method:      http.MethodGet,
		Path:        userPath,
		Summary:     "List progress",
		Description: "Returns every story progress record for the user, ordered by story",
		Tags:        tags,
	}, s.handleListProgress)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteUserProgress",
		Method:        http.MethodDelete,
		Path:          userPath,
		Summary:       "Delete all progress",
		Description:   "Erases every progress record for the user",
		Tags:          tags,
		DefaultStatus: http.StatusOK,
	}, s.handleDeleteUserProgress)

	huma.Register(s.api, huma.Operation{
		OperationID: "listCompletedProgress",
		Method:      http.MethodGet,
		Path:        userPath + "/completed",
		Summary:     "List completed stories",
		Tags:        tags,
	}, s.handleListCompleted)

	huma.Register(s.api, huma.Operation{
		OperationID: "listInProgress",
		Method:      http.MethodGet,
		Path:        userPath + "/in-progress",
		Summary:     "List stories in progress",
		Tags:        tags,
	}, s.handleListInProgress)

	huma.Register(s.api, huma.Operation{
		OperationID: "listStaleProgress",
		Method:      http.MethodGet,
		Path:        userPath + "/stale",
		Summary:     "List stale stories",
		Description: "Returns incomplete stories not accessed within the given number of days",
		Tags:        tags,
	}, s.handleListStale)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCurrentStory",
		Method:      http.MethodGet,
		Path:        userPath + "/current",
		Summary:     "Get current story",
		Description: "Returns the most recently accessed incomplete story",
		Tags:        tags,
	}, s.handleGetCurrentStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "getUserVocabulary",
		Method:      http.MethodGet,
		Path:        userPath + "/vocabulary",
		Summary:     "Get learned vocabulary",
		Description: "Returns the distinct words learned across all stories",
		Tags:        tags,
	}, s.handleGetVocabulary)

	huma.Register(s.api, huma.Operation{
		OperationID: "getProgress",
		Method:      http.MethodGet,
		Path:        storyPath,
		Summary:     "Get story progress",
		Tags:        tags,
	}, s.handleGetProgress)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateProgress",
		Method:      http.MethodPost,
		Path:        storyPath,
		Summary:     "Update story progress",
		Description: "Applies a partial update, creating the record on first use. All fields are validated before any change.",
		Tags:        tags,
	}, s.handleUpdateProgress)

	huma.Register(s.api, huma.Operation{
		OperationID:   "resetProgress",
		Method:        http.MethodDelete,
		Path:          storyPath,
		Summary:       "Reset story progress",
		Tags:          tags,
		DefaultStatus: http.StatusNoContent,
	}, s.handleResetProgress)

	huma.Register(s.api, huma.Operation{
		OperationID: "startStory",
		Method:      http.MethodPost,
		Path:        storyPath + "/start",
		Summary:     "Start story",
		Description: "Creates the record if needed and resumes a paused story",
		Tags:        tags,
	}, s.handleStartStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "pauseStory",
		Method:      http.MethodPost,
		Path:        storyPath + "/pause",
		Summary:     "Pause story",
		Tags:        tags,
	}, s.handlePauseStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "resumeStory",
		Method:      http.MethodPost,
		Path:        storyPath + "/resume",
		Summary:     "Resume story",
		Tags:        tags,
	}, s.handleResumeStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "addVocabulary",
		Method:      http.MethodPost,
		Path:        storyPath + "/vocabulary",
		Summary:     "Add vocabulary word",
		Tags:        tags,
	}, s.handleAddVocabulary)

	huma.Register(s.api, huma.Operation{
		OperationID: "recordPronunciation",
		Method:      http.MethodPost,
		Path:        storyPath + "/pronunciation",
		Summary:     "Record pronunciation score",
		Tags:        tags,
	}, s.handleRecordPronunciation)

	huma.Register(s.api, huma.Operation{
		OperationID: "completeChapter",
		Method:      http.MethodPost,
		Path:        storyPath + "/chapters/{chapter}/complete",
		Summary:     "Complete chapter",
		Description: "Moves the learner to the chapter and applies an optional progress update",
		Tags:        tags,
	}, s.handleCompleteChapter)
}

// === DTOs ===

// UserInput identifies a user.
type UserInput struct {
	UserID int64 `path:"userID" doc:"User ID"`
}

// StoryInput identifies one user's record for one story.
type StoryInput struct {
	UserID  int64 `path:"userID" doc:"User ID"`
	StoryID int64 `path:"storyID" doc:"Story ID"`
}

// UpdateProgressInput contains parameters for updating progress.
type UpdateProgressInput struct {
	StoryInput
	Body service.UpdateProgressRequest
}

// CompleteChapterInput contains parameters for completing a chapter.
type CompleteChapterInput struct {
	StoryInput
	Chapter int                            `path:"chapter" minimum:"1" doc:"Chapter number (1-based)"`
	Body    *service.UpdateProgressRequest `required:"false"`
}

// AddVocabularyInput contains parameters for adding a word.
type AddVocabularyInput struct {
	StoryInput
	Body service.AddVocabularyRequest
}

// RecordPronunciationInput contains parameters for recording a score.
type RecordPronunciationInput struct {
	StoryInput
	Body service.PronunciationRequest
}

// ListStaleInput contains parameters for listing stale stories.
type ListStaleInput struct {
	UserInput
	Days int `query:"days" minimum:"1" default:"7" doc:"Days without access before a story counts as stale"`
}

// ProgressResponse is one story progress record in API responses.
type ProgressResponse struct {
	UserID                int64     `json:"user_id" doc:"User ID"`
	StoryID               int64     `json:"story_id" doc:"Story ID"`
	Status                string    `json:"status" enum:"NOT_STARTED,IN_PROGRESS,COMPLETED,PAUSED" doc:"Progress status"`
	StatusLabel           string    `json:"status_label" doc:"Human-readable status"`
	CompletionPercentage  int       `json:"completion_percentage" doc:"Completion 0-100"`
	IsCompleted           bool      `json:"is_completed" doc:"True once completion reached 100"`
	CurrentChapter        int       `json:"current_chapter" doc:"Current chapter (1-based)"`
	TimeSpent             int64     `json:"time_spent" doc:"Cumulative seconds spent"`
	QuizScore             *int      `json:"quiz_score,omitempty" doc:"Latest quiz score"`
	VocabularyLearned     []string  `json:"vocabulary_learned" doc:"Words learned in this story"`
	PronunciationAttempts int       `json:"pronunciation_attempts" doc:"Number of pronunciation scores recorded"`
	AvgPronunciationScore *float64  `json:"avg_pronunciation_score,omitempty" doc:"Mean pronunciation score"`
	LastAccessed          time.Time `json:"last_accessed" doc:"Last learner interaction"`
	CreatedAt             time.Time `json:"created_at" doc:"When the record was created"`
	UpdatedAt             time.Time `json:"updated_at" doc:"When the record was last written"`
}

// ProgressOutput wraps a single record for Huma.
type ProgressOutput struct {
	Body ProgressResponse
}

// ProgressListResponse contains a list of records.
type ProgressListResponse struct {
	Progress []ProgressResponse `json:"progress" doc:"Progress records"`
	Count    int                `json:"count" doc:"Number of records"`
}

// ProgressListOutput wraps a list of records for Huma.
type ProgressListOutput struct {
	Body ProgressListResponse
}

// VocabularyResponse contains a user's learned words.
type VocabularyResponse struct {
	UserID int64    `json:"user_id" doc:"User ID"`
	Words  []string `json:"words" doc:"Distinct words, in order of first story learned"`
	Count  int      `json:"count" doc:"Number of distinct words"`
}

// VocabularyOutput wraps the vocabulary response for Huma.
type VocabularyOutput struct {
	Body VocabularyResponse
}

// DeleteProgressOutput reports how many records were erased.
type DeleteProgressOutput struct {
	Body struct {
		Deleted int `json:"deleted" doc:"Number of records deleted"`
	}
}

func toProgressResponse(p *domain.Progress) ProgressResponse {
	vocab := p.VocabularyLearned
	if vocab == nil {
		vocab = []string{}
	}
	return ProgressResponse{
		UserID:                p.UserID,
		StoryID:               p.StoryID,
		Status:                p.Status.String(),
		StatusLabel:           p.Status.DisplayName(),
		CompletionPercentage:  p.CompletionPercentage,
		IsCompleted:           p.IsCompleted,
		CurrentChapter:        p.CurrentChapter,
		TimeSpent:             p.TimeSpent,
		QuizScore:             p.QuizScore,
		VocabularyLearned:     vocab,
		PronunciationAttempts: p.PronunciationAttempts,
		AvgPronunciationScore: p.AvgPronunciationScore,
		LastAccessed:          p.LastAccessed,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func progressOutput(p *domain.Progress, err error) (*ProgressOutput, error) {
	if err != nil {
		return nil, err
	}
	return &ProgressOutput{Body: toProgressResponse(p)}, nil
}

func progressListOutput(records []*domain.Progress, err error) (*ProgressListOutput, error) {
	if err != nil {
		return nil, err
	}
	items := make([]ProgressResponse, len(records))
	for i, p := range records {
		items[i] = toProgressResponse(p)
	}
	return &ProgressListOutput{
		Body: ProgressListResponse{Progress: items, Count: len(items)},
	}, nil
}

// === Handlers ===

func (s *Server) handleListProgress(ctx context.Context, input *UserInput) (*ProgressListOutput, error) {
	return progressListOutput(s.services.Progress.ListProgress(ctx, input.UserID))
}

func (s *Server) handleDeleteUserProgress(ctx context.Context, input *UserInput) (*DeleteProgressOutput, error) {
	n, err := s.services.Progress.DeleteAllForUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	out := &DeleteProgressOutput{}
	out.Body.Deleted = n
	return out, nil
}

func (s *Server) handleListCompleted(ctx context.Context, input *UserInput) (*ProgressListOutput, error) {
	return progressListOutput(s.services.Progress.ListCompleted(ctx, input.UserID))
}

func (s *Server) handleListInProgress(ctx context.Context, input *UserInput) (*ProgressListOutput, error) {
	return progressListOutput(s.services.Progress.ListInProgress(ctx, input.UserID))
}

func (s *Server) handleListStale(ctx context.Context, input *ListStaleInput) (*ProgressListOutput, error) {
	olderThan := time.Duration(input.Days) * 24 * time.Hour
	return progressListOutput(s.services.Progress.ListStale(ctx, input.UserID, olderThan))
}

func (s *Server) handleGetCurrentStory(ctx context.Context, input *UserInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.CurrentActiveStory(ctx, input.UserID))
}

func (s *Server) handleGetVocabulary(ctx context.Context, input *UserInput) (*VocabularyOutput, error) {
	words, err := s.services.Progress.UserVocabulary(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	return &VocabularyOutput{
		Body: VocabularyResponse{UserID: input.UserID, Words: words, Count: len(words)},
	}, nil
}

func (s *Server) handleGetProgress(ctx context.Context, input *StoryInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.GetProgress(ctx, input.UserID, input.StoryID))
}

func (s *Server) handleUpdateProgress(ctx context.Context, input *UpdateProgressInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.UpdateProgress(ctx, input.UserID, input.StoryID, input.Body))
}

func (s *Server) handleResetProgress(ctx context.Context, input *StoryInput) (*struct{}, error) {
	if err := s.services.Progress.ResetProgress(ctx, input.UserID, input.StoryID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleStartStory(ctx context.Context, input *StoryInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.StartStory(ctx, input.UserID, input.StoryID))
}

func (s *Server) handlePauseStory(ctx context.Context, input *StoryInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.PauseStory(ctx, input.UserID, input.StoryID))
}

func (s *Server) handleResumeStory(ctx context.Context, input *StoryInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.ResumeStory(ctx, input.UserID, input.StoryID))
}

func (s *Server) handleAddVocabulary(ctx context.Context, input *AddVocabularyInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.AddVocabulary(ctx, input.UserID, input.StoryID, input.Body.Word))
}

func (s *Server) handleRecordPronunciation(ctx context.Context, input *RecordPronunciationInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.RecordPronunciationScore(ctx, input.UserID, input.StoryID, input.Body.Score))
}

func (s *Server) handleCompleteChapter(ctx context.Context, input *CompleteChapterInput) (*ProgressOutput, error) {
	return progressOutput(s.services.Progress.CompleteChapter(ctx, input.UserID, input.StoryID, input.Chapter, input.Body))
}
