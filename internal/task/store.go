package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskweave/taskweave/pkg/cerr"
	"github.com/taskweave/taskweave/pkg/storage"
)

const tasksPrefix = "tasks"

// Store persists task descriptions under <dataDir>/tasks/<id>/description.json.
type Store struct {
	storage storage.Storage
}

func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

func TaskDir(id int) string {
	return path.Join(tasksPrefix, strconv.Itoa(id))
}

func descriptionPath(id int) string {
	return path.Join(TaskDir(id), "description.json")
}

type CreateSpec struct {
	Title        string
	Description  string
	WorkflowName string
	Agent        string
	SourceBranch string
	Inputs       map[string]string
}

// Create allocates the next free integer id and persists a fresh task.
func (s *Store) Create(ctx context.Context, spec CreateSpec) (*Task, error) {
	if spec.Title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task title is required", nil)
	}
	if spec.WorkflowName == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task workflow name is required", nil)
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}

	t := &Task{
		ID:           id,
		UUID:         ulid.Make().String(),
		Title:        spec.Title,
		Description:  spec.Description,
		Inputs:       spec.Inputs,
		WorkflowName: spec.WorkflowName,
		Agent:        spec.Agent,
		SourceBranch: spec.SourceBranch,
		Status:       StatusNew,
		Iterations:   1,
		CreatedAt:    time.Now(),
		Version:      CurrentVersion,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads and, when the document carries an older schema version,
// migrates a task description. The original file is kept as a .backup
// copy before the migrated document is re-saved.
func (s *Store) Load(ctx context.Context, id int) (*Task, error) {
	data, err := s.storage.Read(ctx, descriptionPath(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError(fmt.Sprintf("task %d", id), err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.DataLoss,
			fmt.Sprintf("task %d description is corrupt", id), err)
	}

	if t.Version != CurrentVersion {
		if err := s.migrate(ctx, id, &t, data); err != nil {
			return nil, err
		}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Save validates and persists the task.
func (s *Store) Save(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to marshal task", err)
	}
	if err := s.storage.Write(ctx, descriptionPath(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError(fmt.Sprintf("task %d", t.ID), err)
	}
	return nil
}

// Delete removes the task directory, iterations included.
func (s *Store) Delete(ctx context.Context, id int) error {
	exists, err := s.storage.Exists(ctx, descriptionPath(id))
	if err != nil {
		return cerr.WrapStorageReadError(fmt.Sprintf("task %d", id), err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, fmt.Sprintf("task %d not found", id), nil)
	}
	if err := s.storage.DeleteAll(ctx, TaskDir(id)); err != nil {
		return cerr.WrapStorageDeleteError(fmt.Sprintf("task %d", id), err)
	}
	return nil
}

// List loads every task in id order. Unreadable entries are skipped.
func (s *Store) List(ctx context.Context) ([]*Task, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Load(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable task", "id", id, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// IDs enumerates task ids from the directory names of the task tree.
func (s *Store) IDs(ctx context.Context) ([]int, error) {
	dirs, err := s.storage.ListDirs(ctx, tasksPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	var ids []int
	for _, name := range dirs {
		id, err := strconv.Atoi(name)
		if err != nil || id < 1 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *Store) nextID(ctx context.Context) (int, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, id := range ids {
		if id >= next {
			next = id + 1
		}
	}
	return next, nil
}

// migrate fills every optional field of an older document with a safe
// default, stamps the current version, and re-saves. Older valid documents
// must remain loadable, so missing fields default instead of rejecting.
func (s *Store) migrate(ctx context.Context, id int, t *Task, original []byte) error {
	slog.InfoContext(ctx, "migrating task description",
		"id", id, "from", t.Version, "to", CurrentVersion)

	backup := descriptionPath(id) + ".backup"
	if err := s.storage.Write(ctx, backup, original); err != nil {
		return cerr.WrapStorageWriteError(fmt.Sprintf("task %d backup", id), err)
	}

	t.ID = id
	if t.UUID == "" {
		t.UUID = ulid.Make().String()
	}
	if t.Title == "" {
		t.Title = fmt.Sprintf("Task %d", id)
	}
	t.Status = ParseStatus(string(t.Status))
	if t.Iterations < 1 {
		t.Iterations = 1
	}
	if t.RestartCount < 0 {
		t.RestartCount = 0
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Version = CurrentVersion

	return s.Save(ctx, t)
}
