package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pylonproxy/pylon/internal/recorder"
)

// InsertRequestLog implements recorder.Sink.
func (s *Store) InsertRequestLog(ctx context.Context, l recorder.RequestLog) error {
	id := l.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO request_logs (id, credential_id, api_identifier, request_path, request_method,
		 response_status, request_time, response_time_ms, client_ip, is_sse, sse_message_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, l.CredentialID, l.APIIdentifier, l.RequestPath, l.RequestMethod,
		l.ResponseStatus, l.RequestTime.UTC().Format(time.RFC3339), l.ResponseTimeMs,
		l.ClientIP, boolToInt(l.IsSSE), l.SSEMessageCount,
	)
	return err
}

// DeleteRequestLogsOlderThan removes request_logs rows whose request_time
// predates cutoff, returning how many rows were deleted. Used by
// internal/cleanup's retention sweeper.
func (s *Store) DeleteRequestLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM request_logs WHERE request_time < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
