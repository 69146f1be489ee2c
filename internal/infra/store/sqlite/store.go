// Package sqlite is the embedded store used when no toolserver is
// configured. It keeps the toolserver's table layout so a data file can be
// shared between the two.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/profile"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

const messageListLimit = 500

// Store implements the collaborator ports on a sqlite database.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	newID  func() string
	logger logging.Logger
}

var (
	_ ports.ConsentStore         = (*Store)(nil)
	_ ports.ProjectSettingsStore = (*Store)(nil)
	_ ports.ChatLog              = (*Store)(nil)
	_ ports.ArtifactSink         = (*Store)(nil)
	_ ports.FeedbackMemory       = (*Store)(nil)
	_ ports.ProjectAdmin         = (*Store)(nil)
)

// Open opens (and migrates) the database at dsn. Use ":memory:" in tests.
func Open(dsn string, logger logging.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, now: time.Now, newID: uuid.NewString, logger: logging.OrNop(logger)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS consents (
			project_id TEXT PRIMARY KEY,
			consented INTEGER NOT NULL DEFAULT 0,
			auto_confirm INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id)
		);`,
		`CREATE TABLE IF NOT EXISTS project_settings (
			project_id TEXT PRIMARY KEY,
			think_enabled INTEGER NOT NULL DEFAULT 1,
			updated_at_ms INTEGER NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id)
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id)
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			data_json TEXT,
			created_at_ms INTEGER NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id),
			FOREIGN KEY(chat_id) REFERENCES chats(id)
		);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			content TEXT,
			created_at_ms INTEGER NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id)
		);`,
		`CREATE TABLE IF NOT EXISTS profile (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			summary TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_project_id ON chats(project_id);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id ON chat_messages(chat_id);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_project_id ON artifacts(project_id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *Store) nowMs() int64 { return s.now().UnixMilli() }

// ensureProject creates the project row on first write so the CLI can use
// any project id without a separate create step.
func (s *Store) ensureProject(ctx context.Context, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return errors.New("sqlite store: missing project id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO projects (id, title, created_at_ms) VALUES (?, ?, ?)`,
		projectID, projectID, s.nowMs())
	return errors.Wrap(err, "sqlite store: ensure project")
}

func (s *Store) ensureChat(ctx context.Context, projectID, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("sqlite store: missing chat id")
	}
	if err := s.ensureProject(ctx, projectID); err != nil {
		return err
	}
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT project_id FROM chats WHERE id = ?`, chatID).Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO chats (id, project_id, title, created_at_ms) VALUES (?, ?, ?, ?)`,
			chatID, projectID, "", s.nowMs())
		return errors.Wrap(err, "sqlite store: ensure chat")
	case err != nil:
		return errors.Wrap(err, "sqlite store: lookup chat")
	case owner != projectID:
		return errors.Errorf("sqlite store: chat %s belongs to another project", chatID)
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, title string) (ports.Project, error) {
	p := ports.Project{ID: s.newID(), Title: strings.TrimSpace(title), CreatedAtMs: s.nowMs()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, created_at_ms) VALUES (?, ?, ?)`, p.ID, p.Title, p.CreatedAtMs)
	if err != nil {
		return ports.Project{}, errors.Wrap(err, "sqlite store: create project")
	}
	return p, nil
}

func (s *Store) CreateChat(ctx context.Context, projectID, title string) (ports.ChatThread, error) {
	if err := s.ensureProject(ctx, projectID); err != nil {
		return ports.ChatThread{}, err
	}
	c := ports.ChatThread{ID: s.newID(), ProjectID: projectID, Title: strings.TrimSpace(title), CreatedAtMs: s.nowMs()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, project_id, title, created_at_ms) VALUES (?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Title, c.CreatedAtMs)
	if err != nil {
		return ports.ChatThread{}, errors.Wrap(err, "sqlite store: create chat")
	}
	return c, nil
}

// GetConsent returns a not-consented record for unknown projects.
func (s *Store) GetConsent(ctx context.Context, projectID string) (ports.Consent, error) {
	out := ports.Consent{ProjectID: projectID}
	var consented, auto int64
	err := s.db.QueryRowContext(ctx,
		`SELECT consented, auto_confirm, updated_at_ms FROM consents WHERE project_id = ?`, projectID,
	).Scan(&consented, &auto, &out.UpdatedAtMs)
	switch {
	case err == sql.ErrNoRows:
		return out, nil
	case err != nil:
		return ports.Consent{}, errors.Wrap(err, "sqlite store: get consent")
	}
	out.Consented = consented != 0
	out.AutoConfirm = auto != 0
	return out, nil
}

func (s *Store) SetConsent(ctx context.Context, projectID string, consented, autoConfirm bool) (ports.Consent, error) {
	if err := s.ensureProject(ctx, projectID); err != nil {
		return ports.Consent{}, err
	}
	out := ports.Consent{ProjectID: projectID, Consented: consented, AutoConfirm: autoConfirm, UpdatedAtMs: s.nowMs()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consents (project_id, consented, auto_confirm, updated_at_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET consented = excluded.consented,
		   auto_confirm = excluded.auto_confirm, updated_at_ms = excluded.updated_at_ms`,
		projectID, boolInt(consented), boolInt(autoConfirm), out.UpdatedAtMs)
	if err != nil {
		return ports.Consent{}, errors.Wrap(err, "sqlite store: set consent")
	}
	return out, nil
}

// GetSettings defaults think_enabled to true like the table default.
func (s *Store) GetSettings(ctx context.Context, projectID string) (ports.ProjectSettings, error) {
	out := ports.ProjectSettings{ProjectID: projectID, ThinkEnabled: true}
	var think int64
	err := s.db.QueryRowContext(ctx,
		`SELECT think_enabled, updated_at_ms FROM project_settings WHERE project_id = ?`, projectID,
	).Scan(&think, &out.UpdatedAtMs)
	switch {
	case err == sql.ErrNoRows:
		return out, nil
	case err != nil:
		return ports.ProjectSettings{}, errors.Wrap(err, "sqlite store: get settings")
	}
	out.ThinkEnabled = think != 0
	return out, nil
}

func (s *Store) SetSettings(ctx context.Context, projectID string, thinkEnabled bool) (ports.ProjectSettings, error) {
	if err := s.ensureProject(ctx, projectID); err != nil {
		return ports.ProjectSettings{}, err
	}
	out := ports.ProjectSettings{ProjectID: projectID, ThinkEnabled: thinkEnabled, UpdatedAtMs: s.nowMs()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_settings (project_id, think_enabled, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET think_enabled = excluded.think_enabled, updated_at_ms = excluded.updated_at_ms`,
		projectID, boolInt(thinkEnabled), out.UpdatedAtMs)
	if err != nil {
		return ports.ProjectSettings{}, errors.Wrap(err, "sqlite store: set settings")
	}
	return out, nil
}

func (s *Store) CreateMessage(ctx context.Context, projectID, chatID string, msg ports.NewChatMessage) (ports.ChatMessage, error) {
	role := strings.TrimSpace(msg.Role)
	switch role {
	case ports.RoleUser, ports.RoleAssistant, ports.RoleSystem, ports.RoleTool:
	default:
		return ports.ChatMessage{}, errors.Errorf("sqlite store: invalid role %q", msg.Role)
	}
	content := strings.TrimRight(msg.Content, " \t\r\n")
	if strings.TrimSpace(content) == "" && msg.Data == nil {
		return ports.ChatMessage{}, errors.New("sqlite store: missing content")
	}
	if err := s.ensureChat(ctx, projectID, chatID); err != nil {
		return ports.ChatMessage{}, err
	}

	var dataJSON sql.NullString
	if msg.Data != nil {
		raw, err := jsonx.Marshal(msg.Data)
		if err != nil {
			return ports.ChatMessage{}, errors.Wrap(err, "sqlite store: encode message data")
		}
		dataJSON = sql.NullString{String: string(raw), Valid: true}
	}
	out := ports.ChatMessage{
		ID: s.newID(), ProjectID: projectID, ChatID: chatID,
		Role: role, Content: content, Data: msg.Data, CreatedAtMs: s.nowMs(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, project_id, chat_id, role, content, data_json, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID, projectID, chatID, role, content, dataJSON, out.CreatedAtMs)
	if err != nil {
		return ports.ChatMessage{}, errors.Wrap(err, "sqlite store: insert message")
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, projectID, chatID string) ([]ports.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, chat_id, role, content, data_json, created_at_ms
		 FROM chat_messages WHERE project_id = ? AND chat_id = ?
		 ORDER BY created_at_ms ASC, rowid ASC LIMIT ?`,
		projectID, chatID, messageListLimit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list messages")
	}
	defer func() { _ = rows.Close() }()

	var out []ports.ChatMessage
	for rows.Next() {
		var m ports.ChatMessage
		var dataJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.ChatID, &m.Role, &m.Content, &dataJSON, &m.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := jsonx.Unmarshal([]byte(dataJSON.String), &m.Data); err != nil {
				s.logger.Warn("message %s has undecodable data: %v", m.ID, err)
				m.Data = nil
			}
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: iterate messages")
}

// StoreText keeps artifact content inline; path is kept for parity with the
// toolserver's file layout.
func (s *Store) StoreText(ctx context.Context, projectID, kind, path, content string) error {
	kind = strings.TrimSpace(kind)
	path = strings.Trim(strings.ReplaceAll(strings.TrimSpace(path), `\`, "/"), "/")
	if kind == "" || path == "" || strings.Contains(path, "..") {
		return errors.Errorf("sqlite store: invalid artifact kind=%q path=%q", kind, path)
	}
	if err := s.ensureProject(ctx, projectID); err != nil {
		return err
	}
	rel := "projects/" + projectID + "/out/" + path
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, project_id, kind, path, content, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		s.newID(), projectID, kind, rel, content, s.nowMs())
	return errors.Wrap(err, "sqlite store: store artifact")
}

// Artifact returns the newest content stored under projectID and path.
func (s *Store) Artifact(ctx context.Context, projectID, path string) (string, error) {
	var content sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM artifacts WHERE project_id = ? AND path = ? ORDER BY created_at_ms DESC, rowid DESC LIMIT 1`,
		projectID, "projects/"+projectID+"/out/"+strings.Trim(path, "/"),
	).Scan(&content)
	if err != nil {
		return "", errors.Wrap(err, "sqlite store: get artifact")
	}
	return content.String, nil
}

func (s *Store) loadProfile(ctx context.Context) (profile.Memory, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM profile WHERE id = 1`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		return profile.New(), nil
	case err != nil:
		return profile.Memory{}, errors.Wrap(err, "sqlite store: load profile")
	}
	m := profile.New()
	if err := jsonx.Unmarshal([]byte(raw), &m); err != nil {
		s.logger.Warn("profile row is not valid json, starting fresh: %v", err)
		return profile.New(), nil
	}
	return m, nil
}

// Summary returns the profile prompt.
func (s *Store) Summary(ctx context.Context) (string, error) {
	m, err := s.loadProfile(ctx)
	if err != nil {
		return "", err
	}
	return m.PromptText(), nil
}

// RecordSelection folds one picked asset into the profile memory.
func (s *Store) RecordSelection(ctx context.Context, kind, sourceURL string) error {
	m, err := s.loadProfile(ctx)
	if err != nil {
		return err
	}
	now := s.nowMs()
	m.RecordSelection(kind, sourceURL, now)
	raw, err := jsonx.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "sqlite store: encode profile")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profile (id, summary, updated_at_ms) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET summary = excluded.summary, updated_at_ms = excluded.updated_at_ms`,
		string(raw), now)
	return errors.Wrap(err, "sqlite store: save profile")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
