package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/app"
	"github.com/odyssey-erp/odyssey-billing/internal/tax"
	_ "github.com/odyssey-erp/odyssey-billing/internal/testing/guard"
	"github.com/odyssey-erp/odyssey-billing/jobs"
)

func run(t *testing.T, env Env, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(env)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func noServices() Env {
	return Env{
		Services: func(context.Context) (*app.Services, error) { return nil, errors.New("no database in tests") },
		Jobs:     func() (*JobsCLI, error) { return nil, errors.New("no redis in tests") },
	}
}

func TestCalcTaxTable(t *testing.T) {
	out, err := run(t, noServices(), "calc-tax", "--subtotal", "100", "--gst", "5", "--pst", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "GST_AND_PST")
	assert.Contains(t, out, "$12.00")
	assert.Contains(t, out, "$112.00")
	assert.Contains(t, out, "PST (7%)")
}

func TestCalcTaxJSON(t *testing.T) {
	out, err := run(t, noServices(), "calc-tax", "--subtotal", "200", "--gst", "5", "--pst", "7", "--type", "pst_only", "--json")
	require.NoError(t, err)
	var b tax.Breakdown
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Equal(t, tax.PSTOnly, b.TaxType)
	assert.Equal(t, 0.0, b.GSTAmount)
	assert.Equal(t, 14.0, b.PSTAmount)
	assert.Equal(t, 214.0, b.TotalAmount)
}

func TestCalcTaxRejectsBadInput(t *testing.T) {
	_, err := run(t, noServices(), "calc-tax", "--subtotal", "100", "--gst", "101")
	assert.Error(t, err)
	_, err = run(t, noServices(), "calc-tax", "--subtotal", "100", "--type", "HST")
	assert.Error(t, err)
	_, err = run(t, noServices(), "calc-tax")
	assert.Error(t, err)
}

func TestNextNumberNeedsServices(t *testing.T) {
	_, err := run(t, noServices(), "next-number", "quotation")
	assert.ErrorContains(t, err, "no database")
	_, err = run(t, noServices(), "next-number", "receipt")
	assert.Error(t, err)
}

type fakeEnqueuer struct{ tasks []*asynq.Task }

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "abc", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct{}

func (fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}, nil
}

func (fakeInspector) ListRetryTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "m-1", Type: jobs.TaskTypeSendEmail, Retried: 2, LastErr: "dial tcp: refused"}}, nil
}

func (fakeInspector) Close() error { return nil }

func TestJobsCommands(t *testing.T) {
	enq := &fakeEnqueuer{}
	env := noServices()
	env.Jobs = func() (*JobsCLI, error) { return &JobsCLI{client: enq, inspector: fakeInspector{}}, nil }

	out, err := run(t, env, "jobs", "enqueue", jobs.TaskTypeIdempotencyCleanup)
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued idempotency:cleanup as abc")
	require.Len(t, enq.tasks, 1)

	_, err = run(t, env, "jobs", "enqueue", "gl:integrity")
	assert.ErrorContains(t, err, "unsupported job")

	out, err = run(t, env, "jobs", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")
	assert.Regexp(t, `default\s+3\s+0\s+0\s+1\s+0`, out)

	out, err = run(t, env, "jobs", "retries")
	require.NoError(t, err)
	assert.Contains(t, out, "dial tcp: refused")
}

func TestMigrateNeedsServices(t *testing.T) {
	_, err := run(t, noServices(), "migrate", "up")
	assert.ErrorContains(t, err, "no database")
	_, err = run(t, noServices(), "migrate", "down", "extra")
	assert.Error(t, err)
}
