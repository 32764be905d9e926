package core_test

import (
	"testing"

	"lab-console/internal/core"
	"lab-console/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJobs() []api.Job {
	exp := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	return []api.Job{
		{Id: uuid.New(), ExperimentId: exp, Type: api.JobEval, Status: api.JobQueued, Progress: api.IndeterminateProgress()},
		{Id: uuid.New(), ExperimentId: exp, Type: api.JobEval, Status: api.JobRunning, Progress: api.ProgressOf(60)},
		{Id: uuid.New(), ExperimentId: uuid.New(), Type: api.JobTrain, Status: api.JobRunning, Progress: api.ProgressOf(20)},
		{Id: uuid.New(), ExperimentId: exp, Type: api.JobGenerate, Status: api.JobFailed, Progress: api.ProgressOf(100)},
	}
}

func matchedIndexes(jobs []api.Job, filter core.Filter) []int {
	var out []int
	for i, job := range jobs {
		if filter.Matches(job) {
			out = append(out, i)
		}
	}
	return out
}

func TestParseQueryMatches(t *testing.T) {
	jobs := testJobs()

	cases := []struct {
		query string
		want  []int
	}{
		{`status = "RUNNING"`, []int{1, 2}},
		{`type = "EVAL" AND NOT status = "QUEUED"`, []int{1}},
		{`status = "FAILED" OR type = "TRAIN"`, []int{2, 3}},
		{`type CONTAINS "E" AND (status = "QUEUED" OR status = "FAILED")`, []int{0, 3}},
		{`NOT (type = "EVAL" OR type = "TRAIN")`, []int{3}},
		{`experiment_id = "11111111-1111-1111-1111-111111111111"`, []int{0, 1, 3}},
		{`progress > 50`, []int{1, 3}},
		{`progress < 50`, []int{2}},
		{`progress = 60`, []int{1}},
		{`progress > 10.5 AND progress < 99.5`, []int{1, 2}},
		{`status < "QUEUED"`, []int{3}},
		{`status > "QUEUED"`, []int{1, 2}},
	}

	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			filter, err := core.ParseQuery(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, matchedIndexes(jobs, filter))
		})
	}
}

func TestParseQueryErrors(t *testing.T) {
	for _, query := range []string{
		``,
		`status CONTAINS`,
		`owner = "me"`,
		`status = 5`,
		`progress CONTAINS 5`,
		`(status = "QUEUED"`,
		`status = "QUEUED" AND`,
	} {
		t.Run(query, func(t *testing.T) {
			_, err := core.ParseQuery(query)
			assert.Error(t, err)
		})
	}
}

func TestFilterJobs(t *testing.T) {
	jobs := testJobs()

	assert.Equal(t, jobs, core.FilterJobs(jobs, nil))

	filter, err := core.ParseQuery(`type = "GENERATE"`)
	require.NoError(t, err)
	filtered := core.FilterJobs(jobs, filter)
	require.Len(t, filtered, 1)
	assert.Equal(t, jobs[3].Id, filtered[0].Id)

	filter, err = core.ParseQuery(`status = "STOPPED"`)
	require.NoError(t, err)
	assert.NotNil(t, core.FilterJobs(jobs, filter))
	assert.Empty(t, core.FilterJobs(jobs, filter))
}
