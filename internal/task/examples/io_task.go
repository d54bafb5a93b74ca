package examples

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskengine/internal/task/record"
	"taskengine/internal/task/semaphore"
)

// IOTaskSemaphore is the class IOTask should be submitted under: I/O-bound
// work that can run concurrently, unlike CPUTask.
const IOTaskSemaphore = semaphore.NameMultiple

// IOTask mimics an I/O-bound job whose real progress lives outside the
// call stack: Run writes progress to a scratch file and ProgressHook reads
// it back, demonstrating the engine's progress-hook sampling path rather
// than Run updating progress directly.
type IOTask struct {
	SleepStep time.Duration

	progressFile string
}

// NewIOTask builds an IOTask with a unique scratch progress file so
// concurrent instances never collide.
func NewIOTask() *IOTask {
	return &IOTask{
		SleepStep:    20 * time.Millisecond,
		progressFile: progressFilePath(),
	}
}

func progressFilePath() string {
	return os.TempDir() + string(os.PathSeparator) + "taskengine-io-progress-" + uuid.NewString() + ".txt"
}

func (t *IOTask) Kind() string { return "example_io_task" }

// Clone returns a fresh IOTask with its own scratch file, for the
// Recurring Engine to spawn from a template.
func (t *IOTask) Clone() record.Body {
	return &IOTask{SleepStep: t.SleepStep, progressFile: progressFilePath()}
}

// ProgressHook samples the scratch file, keeping the previous value if the
// read fails for any reason (mirrors the source: "keep current progress if
// file reading fails").
func (t *IOTask) ProgressHook(ctl *record.Control) {
	data, err := os.ReadFile(t.progressFile)
	if err != nil {
		return
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return
	}
	ctl.SetProgress(value)
}

func (t *IOTask) Run(ctx context.Context, ctl *record.Control) error {
	ctl.SetHeading("Progress Hook Example Task")
	ctl.SetBody("This is a progress hook example task. Progress is written to a scratch file and read back from it.")

	_ = os.Remove(t.progressFile)
	defer os.Remove(t.progressFile)

	step := t.SleepStep
	if step <= 0 {
		step = 20 * time.Millisecond
	}
	for i := 0; i < 100; i++ {
		if err := os.WriteFile(t.progressFile, []byte(strconv.Itoa(i)), 0o644); err != nil {
			return err
		}
		if err := sleepCtx(ctx, step); err != nil {
			return err
		}
	}
	if err := os.WriteFile(t.progressFile, []byte("100"), 0o644); err != nil {
		return err
	}

	ctl.SetProgress(100)
	ctl.SetBody("Task completed successfully!")
	return nil
}
