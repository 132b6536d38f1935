package history

import (
	"database/sql"
	"time"
)

// ScanEvents reads rows selected as
// occurred_at, event, profile_id, name, pid, exit_code, signal, reason, attempt, delay_ms.
func ScanEvents(rows *sql.Rows) ([]Event, error) {
	out := make([]Event, 0)
	for rows.Next() {
		var (
			e       Event
			typ     string
			delayMS int64
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.ProfileID, &e.Name, &e.PID, &e.ExitCode, &e.Signal, &e.Reason, &e.Attempt, &delayMS); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Delay = time.Duration(delayMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
