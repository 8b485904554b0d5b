package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteBlockStore файловое хранилище на SQLite (схема blocks + ground_level)
type SQLiteBlockStore struct {
	*sqlBlockStore
	path string
}

// NewSQLiteBlockStore открывает файл базы, создавая каталог и таблицы.
// Путь ":memory:" открывает временную базу в памяти.
func NewSQLiteBlockStore(path string) (*SQLiteBlockStore, error) {
	if path == "" {
		return nil, fmt.Errorf("пустой путь к базе SQLite")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории для %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть SQLite: %w", err)
	}
	// Один писатель; ":memory:" к тому же существует только в одном соединении
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSQLitePragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return &SQLiteBlockStore{
		sqlBlockStore: &sqlBlockStore{
			db: db,
			stmts: sqlStatements{
				upsertBlock: `INSERT OR REPLACE INTO blocks (` + blockColumns + `)
					VALUES (?, ?, ?, ?, ?, ?)`,
				upsertGround: `INSERT OR REPLACE INTO ground_level (x, z, y, blockType, biome)
					VALUES (?, ?, ?, ?, ?)`,
			},
		},
		path: path,
	}, nil
}

func initSQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("ошибка %s: %w", p, err)
		}
	}
	return nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			blockType INTEGER NOT NULL,
			biome INTEGER NOT NULL,
			indexed_at INTEGER NOT NULL,
			PRIMARY KEY (x, y, z)
		);`,
		`CREATE TABLE IF NOT EXISTS ground_level (
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			y INTEGER NOT NULL,
			blockType INTEGER NOT NULL,
			biome INTEGER NOT NULL,
			PRIMARY KEY (x, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_xz ON blocks(x, z);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Path путь к файлу базы
func (s *SQLiteBlockStore) Path() string {
	return s.path
}
