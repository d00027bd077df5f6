package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Worker struct {
	ID            uuid.UUID `json:"id"`
	Queue         string    `json:"queue"`
	Capacity      int       `json:"capacity"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (s *Store) RegisterWorker(
	ctx context.Context,
	workerID uuid.UUID,
	queueName string,
	workerCapacity int,
) error {
	_, err := s.connectionPool.Exec(ctx, `
		INSERT INTO workers (
			id,
			queue,
			capacity,
			last_heartbeat
		)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id)
		DO UPDATE
		SET last_heartbeat = now(),
			capacity = EXCLUDED.capacity
	`,
		workerID,
		queueName,
		workerCapacity,
	)

	return err
}

func (s *Store) HeartbeatWorker(ctx context.Context, workerID uuid.UUID) error {
	commandTag, err := s.connectionPool.Exec(ctx, `
		UPDATE workers
		SET last_heartbeat = now()
		WHERE id = $1
	`, workerID)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Store) DeregisterWorker(ctx context.Context, workerID uuid.UUID) error {
	_, err := s.connectionPool.Exec(ctx, `DELETE FROM workers WHERE id = $1`, workerID)
	return err
}

// ListWorkers returns workers that heartbeated within staleAfter.
func (s *Store) ListWorkers(ctx context.Context, staleAfter time.Duration) ([]Worker, error) {
	rows, err := s.connectionPool.Query(ctx, `
		SELECT id, queue, capacity, started_at, last_heartbeat
		FROM workers
		WHERE last_heartbeat > $1
		ORDER BY queue, started_at
	`, s.now().Add(-staleAfter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []Worker
	for rows.Next() {
		var worker Worker
		if err := rows.Scan(
			&worker.ID,
			&worker.Queue,
			&worker.Capacity,
			&worker.StartedAt,
			&worker.LastHeartbeat,
		); err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}

	return workers, rows.Err()
}
