package index

import (
	"database/sql"
	"fmt"

	"github.com/canopyhq/canopy/internal/models"
	"github.com/canopyhq/canopy/internal/parser"
)

const tasksSchemaVersion = "1"

// TasksIndexer is a plugin indexer that extracts checkbox tasks from page
// content into a queryable table.
type TasksIndexer struct{}

func (TasksIndexer) Name() string          { return "tasks" }
func (TasksIndexer) SchemaVersion() string { return tasksSchemaVersion }

func (TasksIndexer) InitDB(db *sql.DB) error {
	_, err := db.Exec(`
		DROP TABLE IF EXISTS tasks;
		CREATE TABLE tasks (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			page_id INTEGER NOT NULL,
			text    TEXT NOT NULL,
			line    INTEGER NOT NULL,
			done    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX idx_tasks_page ON tasks(page_id);
	`)
	if err != nil {
		return fmt.Errorf("tasks: init: %w", err)
	}
	return nil
}

func (ti TasksIndexer) IndexPage(tx *sql.Tx, row PageRow, content *parser.Result) error {
	if err := ti.UnindexPage(tx, row); err != nil {
		return err
	}
	if len(content.Tasks) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT INTO tasks (page_id, text, line, done) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("tasks: prepare: %w", err)
	}
	defer stmt.Close()
	for _, task := range content.Tasks {
		done := 0
		if task.Done {
			done = 1
		}
		if _, err := stmt.Exec(row.ID, task.Text, task.Line, done); err != nil {
			return fmt.Errorf("tasks: insert: %w", err)
		}
	}
	return nil
}

func (TasksIndexer) UnindexPage(tx *sql.Tx, row PageRow) error {
	if _, err := tx.Exec(`DELETE FROM tasks WHERE page_id = ?`, row.ID); err != nil {
		return fmt.Errorf("tasks: clear: %w", err)
	}
	return nil
}

func (TasksIndexer) TeardownDB(db *sql.DB) error {
	if _, err := db.Exec(`DROP TABLE IF EXISTS tasks`); err != nil {
		return fmt.Errorf("tasks: teardown: %w", err)
	}
	return nil
}

// Tasks returns every extracted task joined with its page name, open tasks
// first. It fails when the tasks plugin is not registered.
func (ix *Index) Tasks() ([]models.TaskItem, error) {
	if !ix.pluginRegistered("tasks") {
		return nil, fmt.Errorf("index: tasks plugin not registered: %w", ErrNotFound)
	}
	rows, err := ix.db.Query(`
		SELECT p.name, t.text, t.line, t.done
		FROM tasks t
		JOIN pages p ON p.id = t.page_id
		ORDER BY t.done, p.name, t.line
	`)
	if err != nil {
		return nil, fmt.Errorf("index: tasks: %w", err)
	}
	defer rows.Close()

	var out []models.TaskItem
	for rows.Next() {
		var (
			item models.TaskItem
			done int
		)
		if err := rows.Scan(&item.Page, &item.Text, &item.Line, &done); err != nil {
			return nil, err
		}
		item.Done = done != 0
		out = append(out, item)
	}
	return out, rows.Err()
}
