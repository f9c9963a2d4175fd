package slurm

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/pkg/errors"
	"golang.org/x/sys/execabs"

	"github.com/oellm/evalsched/internal/abstractions"
)

const (
	sbatchBinaryName  = "sbatch"
	squeueBinaryName  = "squeue"
	scancelBinaryName = "scancel"
	sacctBinaryName   = "sacct"
)

// Client implements abstractions.Scheduler by calling the local Slurm
// binaries directly, the way jobs are submitted from a login node.
type Client struct {
	logger *slog.Logger
}

// NewClient returns a new local client, verifying up front that every Slurm
// binary the controller needs is on PATH.
func NewClient(logger *slog.Logger) (*Client, error) {
	var missing []string
	for _, bin := range []string{
		sbatchBinaryName,
		squeueBinaryName,
		scancelBinaryName,
		sacctBinaryName,
	} {
		_, err := execabs.LookPath(bin)
		if err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) != 0 {
		return nil, errors.Errorf("no slurm binaries found: %s", strings.Join(missing, ", "))
	}
	return &Client{logger: logger}, nil
}

func (c *Client) Name() string {
	return "slurm"
}

// Submit pipes the rendered script to sbatch and returns the array job id.
func (c *Client) Submit(ctx context.Context, req *abstractions.SubmitRequest) (int64, error) {
	args := []string{"--parsable"}
	if req.Partition != "" {
		args = append(args, "--partition="+req.Partition)
	}
	if req.Account != "" {
		args = append(args, "--account="+req.Account)
	}
	cmd := exec.CommandContext(ctx, sbatchBinaryName, args...)
	cmd.Stdin = bytes.NewBufferString(req.Script)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if out != nil {
			c.logger.Error("sbatch rejected submission", "output", strings.TrimSpace(string(out)))
		}
		if isMalformedRejection(string(out)) {
			return 0, errors.Wrap(abstractions.ErrMalformedSubmission, strings.TrimSpace(string(out)))
		}
		return 0, errors.Wrap(err, "failed to execute sbatch")
	}

	// --parsable prints "jobid" or "jobid;cluster"
	idField, _, _ := strings.Cut(strings.TrimSpace(string(out)), ";")
	id, err := strconv.ParseInt(idField, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "could not parse job id %q", idField)
	}
	return id, nil
}

// malformedMarkers are sbatch messages that indicate the request can never
// succeed as written; everything else is treated as transient.
var malformedMarkers = []string{
	"invalid partition",
	"invalid account",
	"invalid qos",
	"unrecognized option",
	"invalid option",
	"batch script is empty",
	"script is not a batch script",
	"invalid directive",
}

func isMalformedRejection(out string) bool {
	lower := strings.ToLower(out)
	for _, marker := range malformedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// QueueDepth counts the invoking user's pending and running array tasks.
func (c *Client) QueueDepth(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, squeueBinaryName, "--me", "--array", "--states=PENDING,RUNNING", "--json")
	out, err := cmd.Output()
	if err != nil {
		return 0, errors.Wrap(err, "failed to execute squeue")
	}
	return parseQueueDepth(out)
}

// parseQueueDepth sums the tasks behind each squeue record. Started array
// elements appear as one record each, but the unstarted remainder of a
// pending array stays a single record whose array_task_string names the
// range, so a record is worth as many tasks as that range expands to.
func parseQueueDepth(out []byte) (int, error) {
	parsed, err := gabs.ParseJSON(out)
	if err != nil {
		return 0, errors.Wrap(err, "could not parse squeue response")
	}
	jobs := parsed.Path("jobs")
	if jobs == nil {
		return 0, errors.New("squeue response missing jobs field")
	}
	depth := 0
	for _, job := range jobs.Children() {
		spec, ok := job.Path("array_task_string").Data().(string)
		if !ok || spec == "" {
			depth++
			continue
		}
		count, err := countArrayTasks(spec)
		if err != nil {
			return 0, err
		}
		depth += count
	}
	return depth, nil
}

// countArrayTasks expands an array task spec such as "0-199%8" or "1,3,5-7"
// into the number of tasks it names. A trailing "%limit" caps concurrency,
// not size.
func countArrayTasks(spec string) (int, error) {
	ids, _, _ := strings.Cut(spec, "%")
	count := 0
	for _, token := range strings.Split(ids, ",") {
		lo, hi, ranged := strings.Cut(token, "-")
		if !ranged {
			if _, err := strconv.Atoi(token); err != nil {
				return 0, errors.Errorf("could not parse array task spec %q", spec)
			}
			count++
			continue
		}
		start, startErr := strconv.Atoi(lo)
		end, endErr := strconv.Atoi(hi)
		if startErr != nil || endErr != nil || end < start {
			return 0, errors.Errorf("could not parse array task spec %q", spec)
		}
		count += end - start + 1
	}
	return count, nil
}

// ArrayStatus reports the state of every array index of jobID from sacct.
func (c *Client) ArrayStatus(ctx context.Context, jobID int64) ([]abstractions.TaskStatus, error) {
	cmd := exec.CommandContext(ctx, sacctBinaryName,
		"-n",
		"-P",
		"-j", strconv.FormatInt(jobID, 10),
		"-o", "jobid,state,exitcode",
	)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, errors.Wrapf(err, "failed to execute sacct: %s", ee.Stderr)
		}
		return nil, errors.Wrap(err, "failed to execute sacct")
	}
	return parseArrayStatus(string(out))
}

// parseArrayStatus reads sacct's parsable output, keeping only rows of the
// form "<jobid>_<index>" (steps like "..._0.batch" are skipped).
func parseArrayStatus(out string) ([]abstractions.TaskStatus, error) {
	var statuses []abstractions.TaskStatus
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 3 {
			return nil, errors.Errorf("unable to parse sacct response: %q", line)
		}
		_, indexField, ok := strings.Cut(fields[0], "_")
		if !ok || strings.Contains(indexField, ".") {
			continue
		}
		index, err := strconv.Atoi(indexField)
		if err != nil {
			// "_[0-9%4]" style pending ranges are not per-task rows
			continue
		}
		statuses = append(statuses, abstractions.TaskStatus{
			Index:    index,
			State:    stateFromSlurm(fields[1]),
			ExitCode: fields[2],
		})
	}
	return statuses, nil
}

// Cancel requests cancellation of the whole array job.
func (c *Client) Cancel(ctx context.Context, jobID int64) error {
	cmd := exec.CommandContext(ctx, scancelBinaryName, strconv.FormatInt(jobID, 10))
	out, err := cmd.CombinedOutput()
	if err != nil && out != nil {
		c.logger.Error("scancel failed", "output", strings.TrimSpace(string(out)))
	}
	return errors.Wrap(err, "failed to execute scancel")
}
