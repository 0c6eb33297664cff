package iteration

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/taskweave/taskweave/internal/task"
	"github.com/taskweave/taskweave/pkg/cerr"
	"github.com/taskweave/taskweave/pkg/storage"
)

// Store persists iterations under tasks/<id>/iterations/<n>/.
type Store struct {
	storage storage.Storage
}

func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

func Dir(taskID, iteration int) string {
	return path.Join(task.TaskDir(taskID), "iterations", strconv.Itoa(iteration))
}

func iterationPath(taskID, iteration int) string {
	return path.Join(Dir(taskID, iteration), "iteration.json")
}

// StatusPath is the status.json sibling the agent process writes and the
// watcher observes.
func StatusPath(taskID, iteration int) string {
	return path.Join(Dir(taskID, iteration), "status.json")
}

// CreateInitial creates attempt 1 for a task.
func (s *Store) CreateInitial(ctx context.Context, taskID int, title, description string) (*Iteration, error) {
	return s.create(ctx, taskID, 1, title, description, nil)
}

// CreateIteration creates attempt N>1, carrying forward context from the
// prior attempt.
func (s *Store) CreateIteration(ctx context.Context, taskID, iteration int, title, description string, previous *PreviousContext) (*Iteration, error) {
	if iteration < 2 {
		return nil, cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("iteration number must be at least 2, got %d", iteration), nil)
	}
	return s.create(ctx, taskID, iteration, title, description, previous)
}

func (s *Store) create(ctx context.Context, taskID, iteration int, title, description string, previous *PreviousContext) (*Iteration, error) {
	exists, err := s.storage.Exists(ctx, iterationPath(taskID, iteration))
	if err != nil {
		return nil, cerr.WrapStorageReadError("iteration", err)
	}
	if exists {
		return nil, cerr.NewError(cerr.AlreadyExists,
			fmt.Sprintf("iteration %d of task %d already exists", iteration, taskID), nil)
	}

	it := &Iteration{
		ID:              taskID,
		Iteration:       iteration,
		Title:           title,
		Description:     description,
		CreatedAt:       time.Now(),
		PreviousContext: previous,
		Version:         CurrentVersion,
	}
	if err := s.save(ctx, it); err != nil {
		return nil, err
	}

	// Seed the status sub-resource so watchers see the attempt as queued
	// before the agent takes over as the sole status writer.
	if err := s.WriteStatus(ctx, taskID, iteration, &Status{
		Status:    StatusQueued,
		UpdatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}
	return it, nil
}

// Load reads an iteration. A document with an older version is re-stamped
// with the current one; the schema is additive, so no field backfill runs.
func (s *Store) Load(ctx context.Context, taskID, iteration int) (*Iteration, error) {
	data, err := s.storage.Read(ctx, iterationPath(taskID, iteration))
	if err != nil {
		return nil, cerr.WrapStorageReadError(
			fmt.Sprintf("iteration %d of task %d", iteration, taskID), err)
	}
	var it Iteration
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, cerr.NewError(cerr.DataLoss,
			fmt.Sprintf("iteration %d of task %d is corrupt", iteration, taskID), err)
	}
	if it.Version != CurrentVersion {
		it.Version = CurrentVersion
		if err := s.save(ctx, &it); err != nil {
			return nil, err
		}
	}
	return &it, nil
}

func (s *Store) save(ctx context.Context, it *Iteration) error {
	data, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to marshal iteration", err)
	}
	if err := s.storage.Write(ctx, iterationPath(it.ID, it.Iteration), data); err != nil {
		return cerr.WrapStorageWriteError("iteration", err)
	}
	return nil
}

// LoadStatus reads the status sub-resource. An absent or corrupt status is
// a hard failure: it means the execution never started, unlike the soft
// conditions of output parsing.
func (s *Store) LoadStatus(ctx context.Context, taskID, iteration int) (*Status, error) {
	data, err := s.storage.Read(ctx, StatusPath(taskID, iteration))
	if err != nil {
		return nil, cerr.WrapStorageReadError(
			fmt.Sprintf("status of iteration %d of task %d", iteration, taskID), err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, cerr.NewError(cerr.DataLoss,
			fmt.Sprintf("status of iteration %d of task %d is corrupt", iteration, taskID), err)
	}
	if !st.Status.Valid() {
		return nil, cerr.NewError(cerr.DataLoss,
			fmt.Sprintf("status of iteration %d of task %d holds unknown value %q",
				iteration, taskID, st.Status), nil)
	}
	return &st, nil
}

func (s *Store) WriteStatus(ctx context.Context, taskID, iteration int, st *Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to marshal iteration status", err)
	}
	if err := s.storage.Write(ctx, StatusPath(taskID, iteration), data); err != nil {
		return cerr.WrapStorageWriteError("iteration status", err)
	}
	return nil
}

// MarkdownFiles returns name→content for the markdown files of an
// iteration directory. With no names given, every .md file is returned.
func (s *Store) MarkdownFiles(ctx context.Context, taskID, iteration int, names ...string) (map[string]string, error) {
	available, err := s.ListMarkdownFiles(ctx, taskID, iteration)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}

	files := make(map[string]string)
	for _, name := range available {
		if len(want) > 0 && !want[name] {
			continue
		}
		data, err := s.storage.Read(ctx, path.Join(Dir(taskID, iteration), name))
		if err != nil {
			return nil, cerr.WrapStorageReadError(name, err)
		}
		files[name] = string(data)
	}
	return files, nil
}

// ListMarkdownFiles lists the markdown file names of an iteration directory.
func (s *Store) ListMarkdownFiles(ctx context.Context, taskID, iteration int) ([]string, error) {
	paths, err := s.storage.List(ctx, Dir(taskID, iteration))
	if err != nil {
		return nil, cerr.WrapStorageReadError("iteration files", err)
	}
	var names []string
	for _, p := range paths {
		name := path.Base(p)
		if strings.HasSuffix(name, ".md") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the highest existing iteration number for a task, or 0.
func (s *Store) Latest(ctx context.Context, taskID int) (int, error) {
	dirs, err := s.storage.ListDirs(ctx, path.Join(task.TaskDir(taskID), "iterations"))
	if err != nil {
		return 0, cerr.WrapStorageReadError("iterations", err)
	}
	latest := 0
	for _, name := range dirs {
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}
