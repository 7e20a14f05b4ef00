package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portcall/internal/domain"
	"portcall/internal/engine"
	"portcall/internal/events"
	"portcall/internal/repo"
)

func TestCreateTaskNumbersPerCategory(t *testing.T) {
	env := newTestEnv(t)
	exec := env.createExecution(t, "V1")
	start := env.now.Add(time.Hour)

	first, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "moor", StaffID: "S1", Start: start, ExecutionID: exec.Code, ActorID: "officer"})
	require.NoError(t, err)
	require.Equal(t, "MOOR[1]", first.Code)
	require.Equal(t, exec.ID, first.ExecutionID)
	require.True(t, first.Window.End.Equal(start.Add(time.Hour)), "default duration applied")

	second, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "MOOR", StaffID: "S2", Start: start, ExecutionID: exec.ID, ActorID: "officer"})
	require.NoError(t, err)
	require.Equal(t, "MOOR[2]", second.Code)

	end := start.Add(20 * time.Minute)
	pilot, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "pilot", StaffID: "S3", Start: start, End: &end, ExecutionID: exec.ID, ActorID: "officer"})
	require.NoError(t, err)
	require.Equal(t, "PILOT[1]", pilot.Code)
	require.True(t, pilot.Window.End.Equal(end))

	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{ExecutionID: exec.Code})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	exec := env.createExecution(t, "V1")

	_, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "NOPE", StaffID: "S1", Start: env.now.Add(time.Hour), ExecutionID: exec.ID, ActorID: "officer"})
	requireFailure(t, err, domain.FailureNotFound)

	_, err = env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "MOOR", StaffID: "S1", Start: env.now.Add(time.Hour), ExecutionID: "VVE2025000077", ActorID: "officer"})
	requireFailure(t, err, domain.FailureNotFound)

	_, err = env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "MOOR", StaffID: "S1", Start: env.now.Add(-time.Hour), ExecutionID: exec.ID, ActorID: "officer"})
	requireRule(t, err, domain.CodeWindowInPast)

	end := env.now.Add(time.Hour)
	_, err = env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "MOOR", StaffID: "S1", Start: env.now.Add(2 * time.Hour), End: &end, ExecutionID: exec.ID, ActorID: "officer"})
	requireRule(t, err, domain.CodeInvalidTimeWindow)

	// a rejected task does not consume a number
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "MOOR", StaffID: "S1", Start: env.now.Add(time.Hour), ExecutionID: exec.ID, ActorID: "officer"})
	require.NoError(t, err)
	require.Equal(t, "MOOR[1]", task.Code)
}

func TestTaskStatusFollowsClock(t *testing.T) {
	env := newTestEnv(t)
	exec := env.createExecution(t, "V1")
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "MOOR", StaffID: "S1", Start: env.now.Add(time.Hour), ExecutionID: exec.ID, ActorID: "officer"})
	require.NoError(t, err)

	_, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: task.Code, Status: "InProgress", ActorID: "officer"})
	requireRule(t, err, domain.CodeOutsideTimeWindow)

	env.advance(90 * time.Minute)
	task, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: "moor[1]", Status: "InProgress", ActorID: "officer"})
	require.NoError(t, err)
	require.Equal(t, domain.TaskInProgress, task.Status)

	_, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: task.Code, Status: "Completed", ActorID: "officer"})
	requireRule(t, err, domain.CodeWindowNotElapsed)

	env.advance(30 * time.Minute)
	task, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: task.Code, Status: "Completed", ActorID: "officer"})
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, task.Status)

	_, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: task.Code, Status: "Scheduled", ActorID: "officer"})
	requireRule(t, err, domain.CodeTaskCompleted)
	staff := "S2"
	_, err = env.Engine.UpdateTask(env.Ctx, engine.UpdateTaskOptions{Code: task.Code, StaffID: &staff, ActorID: "officer"})
	requireRule(t, err, domain.CodeTaskCompleted)

	_, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: task.Code, Status: "Cancelled", ActorID: "officer"})
	requireFailure(t, err, domain.FailureInvalid)

	require.Equal(t, []string{events.TaskCreated, events.TaskStatusChanged, events.TaskStatusChanged}, eventTypes(t, env, events.KindTask))
}

func TestTaskWindowUsesStoredPrecision(t *testing.T) {
	env := newTestEnv(t)
	exec := env.createExecution(t, "V1")
	start := env.now.Add(30*time.Minute + 800*time.Millisecond)
	end := env.now.Add(time.Hour + 900*time.Millisecond)
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "MOOR", StaffID: "S1", Start: start, End: &end, ExecutionID: exec.ID, ActorID: "officer"})
	require.NoError(t, err)
	require.True(t, task.Window.Start.Equal(env.now.Add(30*time.Minute)))
	require.True(t, task.Window.End.Equal(env.now.Add(time.Hour)))

	// the clock and the stored window agree within the same second
	env.now = env.now.Add(30*time.Minute + 100*time.Millisecond)
	task, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: task.Code, Status: "InProgress", ActorID: "officer"})
	require.NoError(t, err)

	env.now = env.now.Add(29*time.Minute + 59*time.Second)
	_, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: task.Code, Status: "Completed", ActorID: "officer"})
	requireRule(t, err, domain.CodeWindowNotElapsed)

	env.advance(time.Second)
	stored, err := env.Engine.GetTask(env.Ctx, task.Code)
	require.NoError(t, err)
	task, err = env.Engine.ChangeTaskStatus(env.Ctx, engine.ChangeTaskStatusOptions{Code: task.Code, Status: "Completed", ActorID: "officer"})
	require.NoError(t, err)
	require.True(t, task.Window.End.Equal(stored.Window.End))
	require.Equal(t, domain.TaskCompleted, task.Status)
}

func TestUpdateTaskDetails(t *testing.T) {
	env := newTestEnv(t)
	exec := env.createExecution(t, "V1")
	other := env.createExecution(t, "V2")
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{CategoryCode: "MOOR", StaffID: "S1", Start: env.now.Add(time.Hour), ExecutionID: exec.ID, ActorID: "officer"})
	require.NoError(t, err)

	staff, category, execRef := "S4", "maint", other.Code
	end := env.now.Add(3 * time.Hour)
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.UpdateTaskOptions{
		Code:         task.Code,
		StaffID:      &staff,
		CategoryCode: &category,
		End:          &end,
		ExecutionID:  &execRef,
		ActorID:      "officer",
	})
	require.NoError(t, err)
	require.Equal(t, "S4", updated.StaffID)
	require.Equal(t, "MAINT", updated.CategoryCode)
	require.Equal(t, "MOOR[1]", updated.Code)
	require.Equal(t, other.ID, updated.ExecutionID)
	require.True(t, updated.Window.End.Equal(end))
	require.Equal(t, 2, updated.Version)

	before := env.now
	_, err = env.Engine.UpdateTask(env.Ctx, engine.UpdateTaskOptions{Code: task.Code, End: &before, ActorID: "officer"})
	requireRule(t, err, domain.CodeInvalidTimeWindow)

	stored, err := env.Engine.GetTask(env.Ctx, task.Code)
	require.NoError(t, err)
	require.Equal(t, 2, stored.Version)
	require.True(t, stored.Window.End.Equal(end))
}
