package history

import (
	"context"
	"net"
	"strconv"
	"strings"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"lodregulator/internal/regulator"
)

// GreptimeDBWriter writes decision history to GreptimeDB via the
// ingester client.
type GreptimeDBWriter struct {
	client *greptime.Client
	db     string
	table  string
}

// NewGreptimeDBWriter creates the writer. tableName may be empty for
// the default. The table is auto-created by GreptimeDB on first write
// with a 30d TTL (the ingester client has no DDL surface).
func NewGreptimeDBWriter(endpoint, database, tableName string) (*GreptimeDBWriter, error) {
	if tableName == "" {
		tableName = "lod_decisions"
	}
	host := endpoint
	port := 0
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	cfg := greptime.NewConfig(host).WithDatabase(database)
	if port != 0 {
		cfg = cfg.WithPort(port)
	}
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &GreptimeDBWriter{
		client: client,
		db:     database,
		table:  tableName,
	}, nil
}

// WriteDecision inserts a single decision row.
func (w *GreptimeDBWriter) WriteDecision(d regulator.Decision) error {
	ctx := ingesterContext.New(context.Background(),
		ingesterContext.WithHint([]*ingesterContext.Hint{{Key: "ttl", Value: "30d"}}))

	tbl, err := table.New(w.table)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("tier", types.STRING)
	tbl.AddFieldColumn("status", types.STRING)
	tbl.AddFieldColumn("altitude_ft", types.FLOAT64)
	tbl.AddFieldColumn("altitude_source", types.STRING)
	tbl.AddFieldColumn("target", types.FLOAT64)
	tbl.AddFieldColumn("smoothed", types.FLOAT64)
	tbl.AddFieldColumn("bridge_conn", types.STRING)
	tbl.AddFieldColumn("paused", types.BOOLEAN)
	tbl.AddFieldColumn("reasons", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	alt := 0.0
	if d.AltitudeFt != nil {
		alt = *d.AltitudeFt
	}
	tbl.AddRow(
		string(d.Tier),
		d.Status,
		alt,
		string(d.AltitudeSource),
		d.Target,
		d.Smoothed,
		string(d.BridgeConn),
		d.Paused,
		strings.Join(d.Reasons, "; "),
		d.Timestamp,
	)

	_, err = w.client.Write(ctx, tbl)
	return err
}
