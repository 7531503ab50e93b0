// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package seed

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
)

// JoinRow is one line of the cross-store verification query.
type JoinRow struct {
	AssetID          string
	AvgVibration     float64
	MaintenanceCount int64
	TotalRevenue     float64
}

const crossStoreQuery = `
SELECT
	s.asset_id,
	AVG(s.vibration) AS avg_vibration,
	COUNT(w.order_id) AS maintenance_count,
	SUM(r.amount_usd) AS total_revenue
FROM sensor_readings s
JOIN maintenance.work_orders w ON s.asset_id = w.asset_id
JOIN revenue.asset_revenue r ON s.asset_id = r.asset_id
GROUP BY s.asset_id
ORDER BY avg_vibration DESC
LIMIT ?`

// VerifyJoin attaches all three stores in dir read-only and runs a join
// across them, returning the top assets by average vibration. An empty
// result means the stores share no assets.
func VerifyJoin(ctx context.Context, dir string, limit int) ([]JoinRow, error) {
	db, err := sql.Open("sqlite", readOnlyURI(filepath.Join(dir, SensorsFile)))
	if err != nil {
		return nil, fmt.Errorf("failed to open sensors store: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensors store: %w", err)
	}
	defer conn.Close()

	for name, file := range map[string]string{"maintenance": MaintenanceFile, "revenue": RevenueFile} {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`ATTACH DATABASE ? AS "%s"`, name), readOnlyURI(filepath.Join(dir, file))); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", name, err)
		}
	}

	rows, err := conn.QueryContext(ctx, crossStoreQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("cross-store query failed: %w", err)
	}
	defer rows.Close()

	var out []JoinRow
	for rows.Next() {
		var r JoinRow
		if err := rows.Scan(&r.AssetID, &r.AvgVibration, &r.MaintenanceCount, &r.TotalRevenue); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func readOnlyURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String()
}
