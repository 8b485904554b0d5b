package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaBlockStore реализует BlockStore для MariaDB/MySQL.
// Таблицы blocks и ground_level создаются автоматически.
type MariaBlockStore struct {
	*sqlBlockStore
}

// NewMariaBlockStore подключается к MariaDB.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
//
// Возвращает:
//
//	*MariaBlockStore - экземпляр хранилища
//	error - ошибка при подключении или создании таблиц
func NewMariaBlockStore(dsn string) (*MariaBlockStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	if err := createMariaTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return &MariaBlockStore{
		sqlBlockStore: &sqlBlockStore{
			db: db,
			stmts: sqlStatements{
				upsertBlock: `
					INSERT INTO blocks (` + blockColumns + `)
					VALUES (?, ?, ?, ?, ?, ?)
					ON DUPLICATE KEY UPDATE
						blockType = VALUES(blockType),
						biome = VALUES(biome),
						indexed_at = VALUES(indexed_at)`,
				upsertGround: `
					INSERT INTO ground_level (x, z, y, blockType, biome)
					VALUES (?, ?, ?, ?, ?)
					ON DUPLICATE KEY UPDATE
						y = VALUES(y),
						blockType = VALUES(blockType),
						biome = VALUES(biome)`,
			},
		},
	}, nil
}

func createMariaTables(db *sql.DB) error {
	queries := []string{`
		CREATE TABLE IF NOT EXISTS blocks (
			x          INT               NOT NULL,
			y          INT               NOT NULL,
			z          INT               NOT NULL,
			blockType  SMALLINT UNSIGNED NOT NULL,
			biome      TINYINT UNSIGNED  NOT NULL,
			indexed_at BIGINT            NOT NULL,
			PRIMARY KEY (x, y, z),
			INDEX idx_blocks_xz (x, z)
		) ENGINE=InnoDB`, `
		CREATE TABLE IF NOT EXISTS ground_level (
			x         INT               NOT NULL,
			z         INT               NOT NULL,
			y         INT               NOT NULL,
			blockType SMALLINT UNSIGNED NOT NULL,
			biome     TINYINT UNSIGNED  NOT NULL,
			PRIMARY KEY (x, z)
		) ENGINE=InnoDB`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
