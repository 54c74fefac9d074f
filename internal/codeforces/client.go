// Package codeforces wraps the four Codeforces API read operations used by
// the reconciliation engine. Every call waits on a shared pacer before firing
// to respect the platform's rate limit, and either returns validated typed
// data or fails with an error carrying the remote status and comment.
package codeforces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/errs"
	"github.com/mkarpenko/cf-progress/internal/model"
	"github.com/mkarpenko/cf-progress/internal/pacer"
)

// DefaultBaseURL is the public Codeforces API root.
const DefaultBaseURL = "https://codeforces.com/api"

// Config carries client settings; Key/Secret may be empty, which disables the
// authenticated standings operation (it then reports no data, not an error).
type Config struct {
	BaseURL string
	Key     string
	Secret  string
	Timeout time.Duration
}

// Client issues Codeforces API calls through a shared minimum-interval pacer.
type Client struct {
	http    *http.Client
	baseURL string
	key     string
	secret  string
	pace    pacer.Pacer
	log     *zap.Logger
	now     func() time.Time
}

// New constructs a Client. A stuck remote call is bounded by cfg.Timeout
// (30s default) and surfaces as a fetch failure.
func New(cfg Config, pace pacer.Pacer, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		key:     cfg.Key,
		secret:  cfg.Secret,
		pace:    pace,
		log:     log,
		now:     time.Now,
	}
}

// Profile is the subset of user.info the engine consumes. Handle carries the
// platform's canonical casing.
type Profile struct {
	Handle    string `json:"handle"`
	Rating    int    `json:"rating"`
	MaxRating int    `json:"maxRating"`
}

// RatingChange is one user.rating entry.
type RatingChange struct {
	ContestID               int    `json:"contestId"`
	ContestName             string `json:"contestName"`
	Handle                  string `json:"handle"`
	Rank                    int    `json:"rank"`
	OldRating               int    `json:"oldRating"`
	NewRating               int    `json:"newRating"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
}

// Standings is the per-contest enrichment payload distilled from
// contest.standings.
type Standings struct {
	TotalProblems int
	SolvedCount   int
}

// UserInfo resolves a handle via user.info. A non-OK status or an empty
// result list is a failure: the profile lookup is the one operation where a
// result is mandatory.
func (c *Client) UserInfo(ctx context.Context, handle string) (*Profile, error) {
	q := url.Values{"handles": {handle}}
	var result []Profile
	if err := c.get(ctx, "user.info", q, &result); err != nil {
		return nil, fmt.Errorf("user.info %s: %w", handle, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("user.info %s: empty result: %w", handle, errs.ErrHandleUnresolved)
	}
	return &result[0], nil
}

// RatingHistory fetches user.rating. An empty list is a valid success: the
// student has never entered a rated contest.
func (c *Client) RatingHistory(ctx context.Context, handle string) ([]RatingChange, error) {
	q := url.Values{"handle": {handle}}
	var result []RatingChange
	if err := c.get(ctx, "user.rating", q, &result); err != nil {
		return nil, fmt.Errorf("user.rating %s: %w", handle, err)
	}
	return result, nil
}

// Submissions fetches up to count entries of user.status and flattens the
// remote's nested problem object into the submission shape the store keeps.
func (c *Client) Submissions(ctx context.Context, handle string, count int) ([]model.Submission, error) {
	q := url.Values{
		"handle": {handle},
		"from":   {"1"},
		"count":  {strconv.Itoa(count)},
	}
	var result []wireSubmission
	if err := c.get(ctx, "user.status", q, &result); err != nil {
		return nil, fmt.Errorf("user.status %s: %w", handle, err)
	}
	out := make([]model.Submission, 0, len(result))
	for _, ws := range result {
		out = append(out, model.Submission{
			ID:              ws.ID,
			ContestID:       ws.ContestID,
			ProblemName:     ws.Problem.Name,
			ProblemIndex:    ws.Problem.Index,
			Language:        ws.ProgrammingLanguage,
			Verdict:         ws.Verdict,
			ProblemRating:   ws.Problem.Rating,
			Tags:            ws.Problem.Tags,
			CreationSeconds: ws.CreationTimeSeconds,
		})
	}
	return out, nil
}

// StandingsRow fetches the student's single contest.standings row with the
// authenticated API. It is best-effort: missing credentials or any remote
// failure yields (nil, nil) so the overall sync can proceed; the entry will
// be retried on a later cycle.
func (c *Client) StandingsRow(ctx context.Context, contestID int, handle string) (*Standings, error) {
	if c.key == "" || c.secret == "" {
		c.log.Warn("standings skipped: api key/secret not configured",
			zap.Int("contestId", contestID), zap.String("handle", handle))
		return nil, nil
	}

	q := url.Values{
		"contestId":      {strconv.Itoa(contestID)},
		"handles":        {handle},
		"from":           {"1"},
		"count":          {"1"},
		"showUnofficial": {"true"},
		"apiKey":         {c.key},
		"time":           {strconv.FormatInt(c.now().Unix(), 10)},
	}
	sig, err := apiSig("contest.standings", q, c.secret)
	if err != nil {
		c.log.Warn("standings signature failed", zap.Int("contestId", contestID), zap.Error(err))
		return nil, nil
	}
	q.Set("apiSig", sig)

	var result wireStandings
	if err := c.get(ctx, "contest.standings", q, &result); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("standings fetch failed",
			zap.Int("contestId", contestID), zap.String("handle", handle), zap.Error(err))
		return nil, nil
	}

	st := &Standings{TotalProblems: len(result.Problems)}
	if len(result.Rows) > 0 {
		for _, pr := range result.Rows[0].ProblemResults {
			// Positive points or a recorded best submission time both mean
			// the problem was credited to the user.
			if pr.Points > 0 || pr.BestSubmissionTimeSeconds != nil {
				st.SolvedCount++
			}
		}
	}
	return st, nil
}

type wireSubmission struct {
	ID        int64 `json:"id"`
	ContestID *int  `json:"contestId"`
	Problem   struct {
		Name   string   `json:"name"`
		Index  string   `json:"index"`
		Rating *int     `json:"rating"`
		Tags   []string `json:"tags"`
	} `json:"problem"`
	ProgrammingLanguage string `json:"programmingLanguage"`
	Verdict             string `json:"verdict"`
	CreationTimeSeconds int64  `json:"creationTimeSeconds"`
}

type wireStandings struct {
	Problems []json.RawMessage `json:"problems"`
	Rows     []struct {
		ProblemResults []struct {
			Points                    float64 `json:"points"`
			BestSubmissionTimeSeconds *int64  `json:"bestSubmissionTimeSeconds"`
		} `json:"problemResults"`
	} `json:"rows"`
}

type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// get pays the pacer delay, performs the request and decodes the OK result.
func (c *Client) get(ctx context.Context, method string, q url.Values, out any) error {
	if err := c.pace.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + "/" + method + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("http %d: decode: %w", resp.StatusCode, err)
	}
	if env.Status != "OK" {
		if env.Comment != "" {
			return fmt.Errorf("cf status %q: %s", env.Status, env.Comment)
		}
		return fmt.Errorf("cf status %q (http %d)", env.Status, resp.StatusCode)
	}
	if env.Result == nil {
		return fmt.Errorf("cf status OK with no result")
	}
	return json.Unmarshal(env.Result, out)
}
