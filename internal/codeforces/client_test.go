package codeforces

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/errs"
)

// countingPacer records how many times calls were paced.
type countingPacer struct{ n int }

func (p *countingPacer) Wait(context.Context) error {
	p.n++
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, key, secret string) (*Client, *countingPacer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	pace := &countingPacer{}
	c := New(Config{BaseURL: srv.URL, Key: key, Secret: secret}, pace, zap.NewNop())
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c, pace, srv
}

func TestClient_UserInfo_CanonicalHandle(t *testing.T) {
	c, pace, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user.info", r.URL.Path)
		require.Equal(t, "Tornike_007", r.URL.Query().Get("handles"))
		w.Write([]byte(`{"status":"OK","result":[{"handle":"tornike_007","rating":1500,"maxRating":1600}]}`))
	}, "", "")

	p, err := c.UserInfo(context.Background(), "Tornike_007")
	require.NoError(t, err)
	require.Equal(t, "tornike_007", p.Handle)
	require.Equal(t, 1500, p.Rating)
	require.Equal(t, 1600, p.MaxRating)
	require.Equal(t, 1, pace.n)
}

func TestClient_UserInfo_EmptyResultIsUnresolved(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","result":[]}`))
	}, "", "")

	_, err := c.UserInfo(context.Background(), "ghost")
	require.ErrorIs(t, err, errs.ErrHandleUnresolved)
}

func TestClient_UserInfo_FailedStatusCarriesComment(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"FAILED","comment":"handles: User with handle ghost not found"}`))
	}, "", "")

	_, err := c.UserInfo(context.Background(), "ghost")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost not found")
}

func TestClient_RatingHistory_EmptyIsSuccess(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user.rating", r.URL.Path)
		w.Write([]byte(`{"status":"OK","result":[]}`))
	}, "", "")

	hist, err := c.RatingHistory(context.Background(), "alice99")
	require.NoError(t, err)
	require.Empty(t, hist)
}

func TestClient_Submissions_FlattensProblem(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user.status", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("from"))
		require.Equal(t, "2000", r.URL.Query().Get("count"))
		w.Write([]byte(`{"status":"OK","result":[
			{"id":7,"contestId":42,
			 "problem":{"name":"Watermelon","index":"A","rating":800,"tags":["math","brute force"]},
			 "programmingLanguage":"GNU C++17","verdict":"OK","creationTimeSeconds":1700000100},
			{"id":8,
			 "problem":{"name":"Gym Task","index":"B"},
			 "programmingLanguage":"Python 3","verdict":"WRONG_ANSWER","creationTimeSeconds":1700000200}
		]}`))
	}, "", "")

	subs, err := c.Submissions(context.Background(), "alice99", 2000)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	require.Equal(t, int64(7), subs[0].ID)
	require.NotNil(t, subs[0].ContestID)
	require.Equal(t, 42, *subs[0].ContestID)
	require.Equal(t, "Watermelon", subs[0].ProblemName)
	require.Equal(t, "A", subs[0].ProblemIndex)
	require.NotNil(t, subs[0].ProblemRating)
	require.Equal(t, 800, *subs[0].ProblemRating)
	require.Equal(t, []string{"math", "brute force"}, subs[0].Tags)

	// non-contest submission: nil contest id and nil rating
	require.Nil(t, subs[1].ContestID)
	require.Nil(t, subs[1].ProblemRating)
}

func TestClient_StandingsRow_NoCredentials(t *testing.T) {
	called := false
	c, pace, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, "", "")

	st, err := c.StandingsRow(context.Background(), 42, "alice99")
	require.NoError(t, err)
	require.Nil(t, st)
	require.False(t, called)
	require.Zero(t, pace.n)
}

func TestClient_StandingsRow_CountsCreditedProblems(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/contest.standings", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "42", q.Get("contestId"))
		require.Equal(t, "alice99", q.Get("handles"))
		require.Equal(t, "true", q.Get("showUnofficial"))
		require.Equal(t, "k", q.Get("apiKey"))
		require.Equal(t, "1700000000", q.Get("time"))
		require.Len(t, q.Get("apiSig"), 6+128)
		w.Write([]byte(`{"status":"OK","result":{
			"problems":[{},{},{},{},{},{}],
			"rows":[{"problemResults":[
				{"points":500},
				{"points":0,"bestSubmissionTimeSeconds":120},
				{"points":0},
				{"points":1000},
				{"points":0,"bestSubmissionTimeSeconds":0},
				{"points":0}
			]}]}}`))
	}, "k", "s")

	st, err := c.StandingsRow(context.Background(), 42, "alice99")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, 6, st.TotalProblems)
	// points>0 twice, bestSubmissionTimeSeconds set twice (zero counts: the
	// field is present, meaning credit)
	require.Equal(t, 4, st.SolvedCount)
}

func TestClient_StandingsRow_RemoteFailureIsNil(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":"FAILED","comment":"contestId: Contest with id 42 not found"}`))
	}, "k", "s")

	st, err := c.StandingsRow(context.Background(), 42, "alice99")
	require.NoError(t, err)
	require.Nil(t, st)
}
