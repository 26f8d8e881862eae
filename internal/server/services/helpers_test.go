package services

import (
	"bytes"
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/dbx"
	"github.com/mprihoda/geosync/internal/diff"
	"github.com/mprihoda/geosync/internal/logging"
	"github.com/mprihoda/geosync/internal/server/blob"
	"github.com/mprihoda/geosync/internal/server/config"
	"github.com/mprihoda/geosync/internal/server/models"
	"github.com/mprihoda/geosync/internal/server/repositories/projects"
	"github.com/mprihoda/geosync/internal/server/repositories/uploads"
	"github.com/mprihoda/geosync/internal/server/repositories/versions"
)

func testLogger() logging.Logger {
	return logging.Discard()
}

func sha1hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// memProjects is an in-memory projects.Repository.
type memProjects struct {
	mu   sync.Mutex
	rows map[string]*models.Project
}

func newMemProjects() *memProjects {
	return &memProjects{rows: make(map[string]*models.Project)}
}

func (m *memProjects) Create(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.rows[p.ID] = &cp
	return nil
}

func (m *memProjects) Get(_ context.Context, id string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) List(_ context.Context) ([]*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Project
	for _, p := range m.rows {
		if p.RemovedAt == nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memProjects) UpdateVersion(_ context.Context, id string, version, totalSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("wrong rows affected count: 0")
	}
	p.LatestVersion = version
	p.TotalSize = totalSize
	return nil
}

func (m *memProjects) SoftDelete(_ context.Context, id, removedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.RemovedAt != nil {
		return common.ErrorNotFound
	}
	now := time.Now().UTC()
	p.RemovedAt = &now
	p.RemovedBy = removedBy
	return nil
}

func (m *memProjects) Restore(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.RemovedAt == nil {
		return common.ErrorNotFound
	}
	p.RemovedAt = nil
	p.RemovedBy = ""
	return nil
}

func (m *memProjects) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(m.rows, id)
	return nil
}

// memVersions is an in-memory versions.Repository reproducing the ledger
// query semantics.
type memVersions struct {
	mu   sync.Mutex
	rows map[string][]*models.ProjectVersion
}

func newMemVersions() *memVersions {
	return &memVersions{rows: make(map[string][]*models.ProjectVersion)}
}

func (m *memVersions) Create(_ context.Context, v *models.ProjectVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows[v.ProjectID] {
		if existing.Name == v.Name {
			return common.ErrVersionConflict
		}
	}
	cp := *v
	cp.Changes = make([]*models.FileChange, len(v.Changes))
	for i, c := range v.Changes {
		cc := *c
		if cc.ID == "" {
			cc.ID = uuid.NewString()
		}
		cc.VersionID = v.ID
		cc.Version = v.Name
		cp.Changes[i] = &cc
	}
	m.rows[v.ProjectID] = append(m.rows[v.ProjectID], &cp)
	return nil
}

func (m *memVersions) Get(_ context.Context, projectID string, name int64) (*models.ProjectVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.rows[projectID] {
		if v.Name == name {
			cp := *v
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memVersions) List(_ context.Context, projectID string, limit, offset int) ([]*models.ProjectVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := append([]*models.ProjectVersion(nil), m.rows[projectID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].Name > all[j].Name })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memVersions) FilesAt(_ context.Context, projectID string, version int64) ([]*models.FileChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]*models.FileChange)
	for _, v := range m.rows[projectID] {
		if v.Name > version {
			continue
		}
		for _, c := range v.Changes {
			if prev, ok := latest[c.Path]; !ok || c.Version > prev.Version {
				latest[c.Path] = c
			}
		}
	}
	var out []*models.FileChange
	for _, c := range latest {
		if c.Change != models.ChangeDelete {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memVersions) FileHistory(_ context.Context, projectID, path string, toVersion int64) ([]*models.FileChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FileChange
	for _, v := range m.rows[projectID] {
		if v.Name > toVersion {
			continue
		}
		for _, c := range v.Changes {
			if c.Path == path {
				cc := *c
				out = append(out, &cc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (m *memVersions) AttachDiff(_ context.Context, versionID, path string, d *models.DiffMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, vs := range m.rows {
		for _, v := range vs {
			if v.ID != versionID {
				continue
			}
			for _, c := range v.Changes {
				if c.Path == path && c.Change == models.ChangeUpdate {
					c.Change = models.ChangeUpdateDiff
					cp := *d
					c.Diff = &cp
					return nil
				}
			}
		}
	}
	return common.ErrorNotFound
}

func (m *memVersions) RedundantCopies(_ context.Context, projectID string, before time.Time) ([]*models.FileChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newest := make(map[string]int64)
	for _, v := range m.rows[projectID] {
		for _, c := range v.Changes {
			if v.Name > newest[c.Path] {
				newest[c.Path] = v.Name
			}
		}
	}
	var out []*models.FileChange
	for _, v := range m.rows[projectID] {
		if !v.CreatedAt.Before(before) {
			continue
		}
		for _, c := range v.Changes {
			if c.Change == models.ChangeUpdateDiff && newest[c.Path] > v.Name {
				cc := *c
				out = append(out, &cc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *memVersions) DeleteForProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, projectID)
	return nil
}

// memUploads is an in-memory uploads.Repository enforcing the
// (project_id, version) uniqueness of the real table.
type memUploads struct {
	mu       sync.Mutex
	rows     map[string]*models.Upload
	failures []*models.SyncFailure
}

func newMemUploads() *memUploads {
	return &memUploads{rows: make(map[string]*models.Upload)}
}

func (m *memUploads) Create(_ context.Context, u *models.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.ProjectID == u.ProjectID && existing.Version == u.Version {
			return common.ErrUploadExists
		}
	}
	cp := *u
	m.rows[u.ID] = &cp
	return nil
}

func (m *memUploads) Get(_ context.Context, id string) (*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUploads) GetActive(_ context.Context, projectID string, version int64) (*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.ProjectID == projectID && u.Version == version {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUploads) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memUploads) DeleteForProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.rows {
		if u.ProjectID == projectID {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *memUploads) RecordFailure(_ context.Context, f *models.SyncFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.failures = append(m.failures, &cp)
	return nil
}

func (m *memUploads) failureTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, f := range m.failures {
		out = append(out, f.ErrorType)
	}
	return out
}

// memManager hands out the same in-memory repos regardless of the DBTX, so
// services can run their dbx.WithTx blocks against a sqlmock database.
type memManager struct {
	projects *memProjects
	versions *memVersions
	uploads  *memUploads
}

func newMemManager() *memManager {
	return &memManager{
		projects: newMemProjects(),
		versions: newMemVersions(),
		uploads:  newMemUploads(),
	}
}

func (m *memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memManager) Projects(dbx.DBTX) projects.Repository        { return m.projects }
func (m *memManager) Versions(dbx.DBTX) versions.Repository        { return m.versions }
func (m *memManager) Uploads(dbx.DBTX) uploads.Repository          { return m.uploads }

// fakeEngine implements diff.Engine over a transparent JSON changeset
// format {"old": ..., "new": ...}, enough to exercise chain resolution,
// inversion and concatenation without the geodiff binary.
type fakeEngine struct{}

type fakeChangeset struct {
	Old string `json:"old"`
	New string `json:"new"`
}

func fakeDiff(t *testing.T, old, new string) []byte {
	t.Helper()
	data, err := json.Marshal(fakeChangeset{Old: old, New: new})
	require.NoError(t, err)
	return data
}

func readChangeset(path string) (*fakeChangeset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cs := &fakeChangeset{}
	if err := json.Unmarshal(data, cs); err != nil {
		return nil, fmt.Errorf("%w: %v", diff.ErrApplyFailed, err)
	}
	return cs, nil
}

func (fakeEngine) Create(_ context.Context, base, modified, output string) error {
	old, err := os.ReadFile(base)
	if err != nil {
		return err
	}
	new_, err := os.ReadFile(modified)
	if err != nil {
		return err
	}
	data, err := json.Marshal(fakeChangeset{Old: string(old), New: string(new_)})
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

func (fakeEngine) Apply(_ context.Context, base, changeset string) error {
	cs, err := readChangeset(changeset)
	if err != nil {
		return err
	}
	current, err := os.ReadFile(base)
	if err != nil {
		return err
	}
	if string(current) != cs.Old {
		return fmt.Errorf("%w: state mismatch", diff.ErrApplyFailed)
	}
	return os.WriteFile(base, []byte(cs.New), 0o644)
}

func (fakeEngine) Invert(_ context.Context, changeset, output string) error {
	cs, err := readChangeset(changeset)
	if err != nil {
		return err
	}
	data, err := json.Marshal(fakeChangeset{Old: cs.New, New: cs.Old})
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

func (fakeEngine) Concat(_ context.Context, output string, changesets ...string) error {
	if len(changesets) == 0 {
		return fmt.Errorf("%w: empty concat", diff.ErrApplyFailed)
	}
	first, err := readChangeset(changesets[0])
	if err != nil {
		return err
	}
	last, err := readChangeset(changesets[len(changesets)-1])
	if err != nil {
		return err
	}
	data, err := json.Marshal(fakeChangeset{Old: first.Old, New: last.New})
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

// testQuota is a QuotaProvider with a fixed workspace quota.
type testQuota struct{ limit int64 }

func (q testQuota) WorkspaceQuota(context.Context, string) (int64, error) {
	return q.limit, nil
}

// testEnv wires the full service stack over in-memory repos, a real blob
// store in a temp dir, and a sqlmock database absorbing the transaction
// begin/commit traffic.
type testEnv struct {
	db       *sql.DB
	manager  *memManager
	store    *blob.Store
	cfg      *config.Config
	files    *FileService
	push     *PushService
	projects *ProjectService
	optim    *Optimizer
	mock     sqlmock.Sqlmock
	events   []Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	store, err := blob.NewStore(root+"/projects", root+"/trash")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.MaxChunkSize = 1024 * 1024
	cfg.TransactionExpiration = time.Minute
	cfg.FileHistoryRetention = 0
	cfg.CheckpointInterval = 0

	env := &testEnv{db: db, manager: newMemManager(), store: store, cfg: cfg, mock: mock}
	logger := testLogger()
	hook := func(_ context.Context, e Event) { env.events = append(env.events, e) }

	env.files = NewFileService(db, env.manager, store, fakeEngine{}, logger)
	env.optim = NewOptimizer(db, env.manager, store, env.files, cfg, logger)
	env.push = NewPushService(db, env.manager, store, fakeEngine{}, env.files, env.optim,
		AllowAuthenticated{}, UnlimitedQuota{}, []Hook{hook}, cfg, logger)
	env.projects = NewProjectService(db, env.manager, store, env.files,
		AllowAuthenticated{}, []Hook{hook}, logger)
	return env
}

func (e *testEnv) newProject(t *testing.T, name string) *models.Project {
	t.Helper()
	p, err := e.projects.Create(context.Background(), name, "ws-1")
	require.NoError(t, err)
	return p
}

// pushFull runs a complete push of full-content files, contents keyed by
// path. One chunk per file.
func (e *testEnv) pushFull(t *testing.T, project *models.Project, version int64, contents map[string]string, removed ...string) *models.ProjectVersion {
	t.Helper()
	ctx := context.Background()

	current, err := e.manager.versions.FilesAt(ctx, project.ID, version)
	require.NoError(t, err)
	existing := make(map[string]bool, len(current))
	for _, c := range current {
		existing[c.Path] = true
	}

	changes := models.Changes{}
	chunks := make(map[string][]byte)
	paths := make([]string, 0, len(contents))
	for path := range contents {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		data := []byte(contents[path])
		chunkID := uuid.NewString()
		chunks[chunkID] = data
		meta := models.FileMeta{
			Path:     path,
			Size:     int64(len(data)),
			Checksum: sha1hex(data),
			Chunks:   []string{chunkID},
		}
		if existing[path] {
			changes.Updated = append(changes.Updated, meta)
		} else {
			changes.Added = append(changes.Added, meta)
		}
	}
	for _, path := range removed {
		changes.Removed = append(changes.Removed, models.FileMeta{Path: path})
	}

	upload, err := e.push.Start(ctx, project.ID, version, changes, "alice")
	require.NoError(t, err)
	for id, data := range chunks {
		res, err := e.push.Chunk(ctx, upload.ID, id, bytes.NewReader(data), "alice")
		require.NoError(t, err)
		require.Equal(t, sha1hex(data), res.Checksum)
	}

	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
	v, err := e.push.Finish(ctx, upload.ID, "alice")
	require.NoError(t, err)
	return v
}

