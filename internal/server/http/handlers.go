package httpserver

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/errs"
	"github.com/mkarpenko/cf-progress/internal/model"
	"github.com/mkarpenko/cf-progress/internal/repository"
	"github.com/mkarpenko/cf-progress/internal/scheduler"
	"github.com/mkarpenko/cf-progress/internal/service"
)

type handlers struct {
	students service.StudentService
	sync     service.SyncService
	settings repository.SettingsRepository
	sched    *scheduler.Scheduler
	log      *zap.Logger
}

type studentRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Handle         string `json:"codeforcesHandle"`
	EmailReminders bool   `json:"emailRemindersEnabled"`
}

type studentResponse struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Email                 string     `json:"email"`
	Phone                 string     `json:"phone,omitempty"`
	Handle                string     `json:"codeforcesHandle"`
	CurrentRating         int        `json:"currentRating"`
	MaxRating             int        `json:"maxRating"`
	LastSubmissionSeconds *int64     `json:"lastSubmissionTimeSeconds"`
	SyncStatus            string     `json:"syncStatus"`
	SyncErrorMessage      string     `json:"syncErrorMessage,omitempty"`
	LastSyncedAt          *time.Time `json:"lastSyncedAt"`
	EmailRemindersEnabled bool       `json:"emailRemindersEnabled"`
	ReminderSentCount     int        `json:"reminderSentCount"`

	Contests    []contestResponse    `json:"contestHistory,omitempty"`
	Submissions []submissionResponse `json:"submissions,omitempty"`
}

type contestResponse struct {
	ContestID           int    `json:"contestId"`
	ContestName         string `json:"contestName"`
	Rank                int    `json:"rank"`
	OldRating           int    `json:"oldRating"`
	NewRating           int    `json:"newRating"`
	RatingUpdateSeconds int64  `json:"ratingUpdateTimeSeconds"`
	ProblemsSolved      int    `json:"problemsSolvedByUser"`
	TotalProblems       int    `json:"totalProblemsInContest"`
	DetailsSynced       bool   `json:"detailsSynced"`
}

type submissionResponse struct {
	ID              int64    `json:"id"`
	ContestID       *int     `json:"contestId"`
	ProblemName     string   `json:"problemName"`
	ProblemIndex    string   `json:"problemIndex"`
	Language        string   `json:"programmingLanguage"`
	Verdict         string   `json:"verdict"`
	ProblemRating   *int     `json:"problemRating"`
	Tags            []string `json:"tags"`
	CreationSeconds int64    `json:"creationTimeSeconds"`
}

type cronSettingsBody struct {
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone"`
}

func toStudentResponse(s *model.Student, withChildren bool) studentResponse {
	resp := studentResponse{
		ID:                    s.ID.String(),
		Name:                  s.Name,
		Email:                 s.Email,
		Phone:                 s.Phone,
		Handle:                s.Handle,
		CurrentRating:         s.CurrentRating,
		MaxRating:             s.MaxRating,
		LastSubmissionSeconds: s.LastSubmissionSeconds,
		SyncStatus:            string(s.SyncStatus),
		SyncErrorMessage:      s.SyncErrorMessage,
		LastSyncedAt:          s.LastSyncedAt,
		EmailRemindersEnabled: s.EmailRemindersEnabled,
		ReminderSentCount:     s.ReminderSentCount,
	}
	if !withChildren {
		return resp
	}
	for _, c := range s.Contests {
		resp.Contests = append(resp.Contests, contestResponse{
			ContestID:           c.ContestID,
			ContestName:         c.ContestName,
			Rank:                c.Rank,
			OldRating:           c.OldRating,
			NewRating:           c.NewRating,
			RatingUpdateSeconds: c.RatingUpdateSeconds,
			ProblemsSolved:      c.ProblemsSolvedByUser,
			TotalProblems:       c.TotalProblemsInContest,
			DetailsSynced:       c.DetailsSynced,
		})
	}
	for _, sub := range s.Submissions {
		resp.Submissions = append(resp.Submissions, submissionResponse{
			ID:              sub.ID,
			ContestID:       sub.ContestID,
			ProblemName:     sub.ProblemName,
			ProblemIndex:    sub.ProblemIndex,
			Language:        sub.Language,
			Verdict:         sub.Verdict,
			ProblemRating:   sub.ProblemRating,
			Tags:            sub.Tags,
			CreationSeconds: sub.CreationSeconds,
		})
	}
	return resp
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.List(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]studentResponse, 0, len(students))
	for i := range students {
		out = append(out, toStudentResponse(&students[i], false))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *handlers) enrollStudent(w http.ResponseWriter, r *http.Request) {
	var body studentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	student, err := h.students.Enroll(r.Context(), service.EnrollInput{
		Name:           body.Name,
		Email:          body.Email,
		Phone:          body.Phone,
		Handle:         body.Handle,
		EmailReminders: body.EmailReminders,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toStudentResponse(student, false))
}

// exportStudentsCSV downloads the enrolled list as a spreadsheet-friendly
// file. Child collections are not included.
func (h *handlers) exportStudentsCSV(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.List(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if len(students) == 0 {
		respondError(w, http.StatusNotFound, "no students to export")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="students_data.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"Name", "Email", "Phone Number", "Codeforces Handle",
		"Current Rating", "Max Rating", "Last Synced At",
		"Reminders Sent", "Email Reminders Enabled", "Enrolled At",
	})
	for i := range students {
		s := &students[i]
		lastSynced := "N/A"
		if s.LastSyncedAt != nil {
			lastSynced = s.LastSyncedAt.Format(time.RFC3339)
		}
		_ = cw.Write([]string{
			s.Name, s.Email, s.Phone, s.Handle,
			strconv.Itoa(s.CurrentRating), strconv.Itoa(s.MaxRating),
			lastSynced,
			strconv.Itoa(s.ReminderSentCount),
			strconv.FormatBool(s.EmailRemindersEnabled),
			s.CreatedAt.Format("2006-01-02"),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.log.Error("csv export failed", zap.Error(err))
	}
}

func (h *handlers) getStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	student, err := h.students.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toStudentResponse(student, true))
}

func (h *handlers) updateStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var body studentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	student, err := h.students.Update(r.Context(), id, service.UpdateInput{
		Name:           body.Name,
		Email:          body.Email,
		Phone:          body.Phone,
		Handle:         body.Handle,
		EmailReminders: body.EmailReminders,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toStudentResponse(student, false))
}

func (h *handlers) deleteStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.students.Delete(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// syncStudent runs one reconciliation cycle synchronously and returns the
// resulting record, including a failed one.
func (h *handlers) syncStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	student, err := h.students.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	record, err := h.sync.SyncOne(r.Context(), student.Handle)
	if err != nil {
		if errors.Is(err, errs.ErrSyncInProgress) {
			respondError(w, http.StatusConflict, "sync already in progress")
			return
		}
		if record == nil {
			h.respondServiceError(w, err)
			return
		}
		// remote failure: the attempt is persisted on the record
		respondJSON(w, http.StatusOK, toStudentResponse(record, false))
		return
	}
	respondJSON(w, http.StatusOK, toStudentResponse(record, true))
}

func (h *handlers) getCronSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cronSettingsBody{
		Schedule: settings.CronSchedule,
		Timezone: settings.CronTimezone,
	})
}

// updateCronSettings validates, persists and rewires the scheduler.
func (h *handlers) updateCronSettings(w http.ResponseWriter, r *http.Request) {
	var body cronSettingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := scheduler.Validate(body.Schedule, body.Timezone); err != nil {
		h.respondServiceError(w, err)
		return
	}
	if err := h.settings.Update(r.Context(), model.Settings{
		CronSchedule: body.Schedule,
		CronTimezone: body.Timezone,
	}); err != nil {
		h.respondServiceError(w, err)
		return
	}
	if err := h.sched.Reload(body.Schedule, body.Timezone); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, body)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrSyncInProgress):
		respondError(w, http.StatusConflict, "sync already in progress")
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrHandleUnresolved):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
